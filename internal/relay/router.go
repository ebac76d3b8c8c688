package relay

import (
	"context"
	"strings"
	"sync"

	"tsignals-relay/internal/logging"
)

// Router dispatches events to the Forwarder or the Reconciler. Route calls
// are serialized so live updates and replay never interleave.
type Router struct {
	forwarder  *Forwarder
	reconciler *Reconciler
	marker     string

	mu sync.Mutex
}

// NewRouter returns a Router sending marker-bearing text to rec.
func NewRouter(fwd *Forwarder, rec *Reconciler, marker string) *Router {
	return &Router{forwarder: fwd, reconciler: rec, marker: marker}
}

// Route handles one event.
func (r *Router) Route(ctx context.Context, ev Event) error {
	msg, ok := ev.(ContentMessage)
	if !ok {
		if s, ok := ev.(ServiceEvent); ok {
			logging.Ctx(ctx).Debug().Int64("channel_id", s.SourceID).Int("message_id", s.ID).Msg("service event skipped")
		}
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.IsDisclaimer(msg) {
		return r.reconciler.Reconcile(ctx, msg)
	}
	return r.forwarder.Forward(ctx, msg)
}

// IsDisclaimer reports whether msg carries the marker phrase.
func (r *Router) IsDisclaimer(msg ContentMessage) bool {
	return msg.Text != "" && strings.Contains(msg.Text, r.marker)
}
