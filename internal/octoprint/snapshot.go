package octoprint

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"
	"net/http"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/HappyTetrahedron/printer-bot/internal/logging"
)

const (
	maxSnapshotBytes = 16 << 20
	snapshotQuality  = 90
)

// WebcamConfigured reports whether a snapshot URL is set.
func (c *Client) WebcamConfigured() bool {
	return c.webcamURL != ""
}

// FetchSnapshot downloads the webcam image and re-encodes it as JPEG. It
// returns false when no webcam is configured or anything goes wrong; failures
// are logged and never returned to the caller.
func (c *Client) FetchSnapshot(ctx context.Context) ([]byte, bool) {
	if !c.WebcamConfigured() {
		return nil, false
	}

	data, err := c.fetchSnapshot(ctx)
	if err != nil {
		c.logger.WithField("event", "snapshot_unavailable").WithError(err).Warn("webcam snapshot unavailable")
		return nil, false
	}

	return data, true
}

func (c *Client) fetchSnapshot(ctx context.Context) ([]byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.webcamURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build snapshot request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch snapshot: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		return nil, &APIError{StatusCode: resp.StatusCode}
	}

	img, format, err := image.Decode(io.LimitReader(resp.Body, maxSnapshotBytes))
	if err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}

	return c.encodeJPEG(img, format)
}

func (c *Client) encodeJPEG(img image.Image, sourceFormat string) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: snapshotQuality}); err != nil {
		return nil, fmt.Errorf("encode snapshot from %s: %w", sourceFormat, err)
	}

	c.logger.WithFields(logging.Fields{
		"event":  "snapshot_converted",
		"source": sourceFormat,
		"bytes":  buf.Len(),
	}).Debug("converted webcam snapshot to jpeg")

	return buf.Bytes(), nil
}
