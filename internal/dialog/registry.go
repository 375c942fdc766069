// Package dialog tracks which chat messages carry a live confirmation prompt.
package dialog

import (
	"errors"
	"sync"
	"time"
)

// Kind identifies what a dialog message asks for.
type Kind string

// KindAbort is the confirm/cancel prompt for aborting the current print.
const KindAbort Kind = "abort"

var (
	// ErrNotFound means the message has no open dialog (never opened, already
	// answered or superseded).
	ErrNotFound = errors.New("dialog not found")
	// ErrExpired means the dialog outlived the registry TTL.
	ErrExpired = errors.New("dialog expired")
)

// Dialog is one outstanding prompt bound to a chat message.
type Dialog struct {
	ChatID    int64
	MessageID int
	Kind      Kind
	OpenedAt  time.Time
}

type key struct {
	chatID    int64
	messageID int
}

// Registry maps prompt messages to their dialog. It is safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	dialogs map[key]Dialog
}

// NewRegistry creates a registry whose dialogs go inert after ttl.
func NewRegistry(ttl time.Duration) *Registry {
	return &Registry{
		ttl:     ttl,
		now:     time.Now,
		dialogs: make(map[key]Dialog),
	}
}

// Open records a dialog for the message, superseding older dialogs of the
// same kind in the chat.
func (r *Registry) Open(chatID int64, messageID int, kind Kind) Dialog {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pruneLocked()
	for k, d := range r.dialogs {
		if d.ChatID == chatID && d.Kind == kind {
			delete(r.dialogs, k)
		}
	}

	d := Dialog{ChatID: chatID, MessageID: messageID, Kind: kind, OpenedAt: r.now()}
	r.dialogs[key{chatID: chatID, messageID: messageID}] = d
	return d
}

// Take removes and returns the dialog bound to the message. A dialog can be
// taken at most once.
func (r *Registry) Take(chatID int64, messageID int, kind Kind) (Dialog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key{chatID: chatID, messageID: messageID}
	d, ok := r.dialogs[k]
	if !ok || d.Kind != kind {
		return Dialog{}, ErrNotFound
	}
	delete(r.dialogs, k)

	if r.expired(d) {
		return Dialog{}, ErrExpired
	}
	return d, nil
}

// Prune drops expired dialogs and returns how many were removed.
func (r *Registry) Prune() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pruneLocked()
}

// Len returns the number of tracked dialogs, expired or not.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.dialogs)
}

func (r *Registry) pruneLocked() int {
	removed := 0
	for k, d := range r.dialogs {
		if r.expired(d) {
			delete(r.dialogs, k)
			removed++
		}
	}
	return removed
}

func (r *Registry) expired(d Dialog) bool {
	return r.ttl > 0 && r.now().Sub(d.OpenedAt) > r.ttl
}
