// Package relay routes source channel messages to the destination channel:
// normal posts are forwarded, disclaimer posts are folded into a single
// pinned message, and channel history can be replayed once at startup.
package relay

import (
	"context"
	"errors"
)

var (
	// ErrMessageNotFound means the referenced message no longer exists.
	ErrMessageNotFound = errors.New("message not found")
	// ErrUnsupported means the transport cannot perform the operation.
	ErrUnsupported = errors.New("operation not supported by transport")
)

// Event is a message observed on a source channel. It is either a
// ServiceEvent or a ContentMessage.
type Event interface {
	event()
}

// ServiceEvent is a platform generated notice (join, leave, pin, title
// change) with nothing to forward.
type ServiceEvent struct {
	SourceID int64
	ID       int
}

// ContentMessage is a user authored message.
type ContentMessage struct {
	ID       int
	SourceID int64
	Text     string
	// Media is an opaque attachment handle understood only by the
	// transport that produced it.
	Media     any
	Pinned    bool
	GroupedID int64
}

func (ServiceEvent) event()   {}
func (ContentMessage) event() {}

// Outgoing is a message built by the relay rather than copied.
type Outgoing struct {
	Text      string
	Media     any
	NoPreview bool
	// Key identifies one logical send across retries. Transports that can
	// deduplicate (MTProto random_id) reuse it; zero means "pick one".
	Key int64
}

// Platform is the outbound side of a messaging transport. Chat identifiers
// are marked ids as configured (-100… for channels).
type Platform interface {
	// Copy re-sends msg to dest verbatim, keeping media and formatting but
	// not the forward header.
	Copy(ctx context.Context, dest int64, msg ContentMessage) error
	// Send posts a new message and returns its id.
	Send(ctx context.Context, dest int64, out Outgoing) (int, error)
	// Edit replaces text and media of an existing message.
	Edit(ctx context.Context, dest int64, id int, out Outgoing) error
	// Pin pins the message without notifying members.
	Pin(ctx context.Context, dest int64, id int) error
	// Message fetches a single message, ErrMessageNotFound if it is gone.
	Message(ctx context.Context, dest int64, id int) (ContentMessage, error)
	// Recent returns up to limit of the newest messages, newest first.
	Recent(ctx context.Context, dest int64, limit int) ([]ContentMessage, error)
}

// Handler receives every event a transport observes on a source channel.
type Handler func(ctx context.Context, ev Event)

// HistorySource streams a channel's full history oldest to newest.
type HistorySource interface {
	History(ctx context.Context, source int64, fn func(Event) error) error
}

// StateStore persists the relay's durable state.
type StateStore interface {
	// PinnedID returns the tracked disclaimer for dest; ok is false when
	// nothing (or nothing parseable) is stored.
	PinnedID(dest int64) (id int, ok bool, err error)
	SetPinnedID(dest int64, id int) error
	ClearPinnedID(dest int64) error
	SyncCompleted() (bool, error)
	MarkSyncCompleted() error
}
