// Package status renders printer job status as Telegram HTML.
package status

import (
	"fmt"
	"html"
	"math/rand"
	"strings"

	"github.com/HappyTetrahedron/printer-bot/internal/octoprint"
)

// UnknownRemaining is shown when the printer reports no remaining time.
const UnknownRemaining = "??:??"

// Affirmations are the filler phrases appended to replies.
var Affirmations = []string{
	"WRRR-wrrr",
	"WRRRRRRRRRRR",
	"WRRR-wr-WRRR",
	"WRRRR *beep*",
	"wrr-WRR-wrr-WRR-wrr",
	"wrrr-WRRR",
}

// Formatter turns job status into display text.
type Formatter struct {
	intn func(n int) int
}

// Option customizes a Formatter.
type Option func(*Formatter)

// WithIntn replaces the random source used to pick affirmations.
func WithIntn(intn func(n int) int) Option {
	return func(f *Formatter) {
		if intn != nil {
			f.intn = intn
		}
	}
}

// NewFormatter returns a Formatter picking affirmations uniformly at random.
func NewFormatter(opts ...Option) *Formatter {
	f := &Formatter{intn: rand.Intn}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Affirmation returns one of Affirmations.
func (f *Formatter) Affirmation() string {
	return Affirmations[f.intn(len(Affirmations))]
}

// Format renders s. A printing job yields the affirmation, a blank line and
// four content lines; any other state yields two lines.
func (f *Formatter) Format(s octoprint.JobStatus) string {
	if !s.Printing() {
		return fmt.Sprintf("<b>%s</b>\n%s", html.EscapeString(s.State), html.EscapeString(f.Affirmation()))
	}

	var completion float64
	if s.Completion != nil {
		completion = *s.Completion
	}

	lines := []string{
		html.EscapeString(f.Affirmation()),
		"",
		"<b>" + html.EscapeString(strings.TrimSpace(s.State)) + "</b>",
		html.EscapeString(s.File),
		fmt.Sprintf("%.2f%% complete", completion),
		Remaining(s.PrintTimeLeft) + " remaining",
	}

	return strings.Join(lines, "\n")
}

// Remaining renders seconds as H:MM:SS, prefixed with days past 24 hours.
// Absent or zero values render as UnknownRemaining.
func Remaining(seconds *int64) string {
	if seconds == nil || *seconds <= 0 {
		return UnknownRemaining
	}

	total := *seconds
	days := total / 86400
	total %= 86400
	clock := fmt.Sprintf("%d:%02d:%02d", total/3600, (total%3600)/60, total%60)

	switch {
	case days == 1:
		return "1 day, " + clock
	case days > 1:
		return fmt.Sprintf("%d days, %s", days, clock)
	default:
		return clock
	}
}
