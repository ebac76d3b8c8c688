package relay

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"tsignals-relay/internal/logging"
	"tsignals-relay/internal/transform"
)

// Reconciler keeps exactly one pinned disclaimer message in the destination.
// A zero tracked id means UNTRACKED.
type Reconciler struct {
	platform  Platform
	store     StateStore
	transform *transform.Transformer
	dest      int64
	marker    string
	lookback  int

	mu      sync.Mutex
	tracked int
}

// NewReconciler returns an UNTRACKED reconciler. Call Restore to rehydrate
// the persisted reference. lookback bounds the pinned-message scan used when
// nothing is tracked; zero disables the scan.
func NewReconciler(p Platform, store StateStore, t *transform.Transformer, dest int64, marker string, lookback int) *Reconciler {
	return &Reconciler{
		platform:  p,
		store:     store,
		transform: t,
		dest:      dest,
		marker:    marker,
		lookback:  lookback,
	}
}

// Restore loads the tracked reference from the store.
func (r *Reconciler) Restore() error {
	id, ok, err := r.store.PinnedID(r.dest)
	if err != nil {
		return fmt.Errorf("load pinned id: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if ok {
		r.tracked = id
	} else {
		r.tracked = 0
	}
	return nil
}

// Tracked returns the tracked message id, zero when UNTRACKED.
func (r *Reconciler) Tracked() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tracked
}

// Reconcile folds a disclaimer-class message into the pinned singleton.
func (r *Reconciler) Reconcile(ctx context.Context, msg ContentMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	log := logging.Ctx(ctx)
	text := r.transform.Apply(msg.Text)

	if r.tracked == 0 {
		r.adopt(ctx)
	}

	if r.tracked == 0 {
		id, err := r.platform.Send(ctx, r.dest, Outgoing{Text: text, Media: msg.Media, NoPreview: true})
		if err != nil {
			return fmt.Errorf("send disclaimer: %w", err)
		}
		r.track(ctx, id)
		if err := r.platform.Pin(ctx, r.dest, id); err != nil {
			return fmt.Errorf("pin disclaimer %d: %w", id, err)
		}
		log.Info().Str("event", "disclaimer_create").Int64("dest", r.dest).Int("pinned_id", id).Msg("disclaimer created and pinned")
		return nil
	}

	current, err := r.platform.Message(ctx, r.dest, r.tracked)
	if err != nil {
		r.lost(ctx, err)
		return nil
	}
	if current.Text == text {
		log.Info().Str("event", "disclaimer_unchanged").Int("pinned_id", r.tracked).Msg("disclaimer unchanged, nothing to edit")
		return nil
	}
	if err := r.platform.Edit(ctx, r.dest, r.tracked, Outgoing{Text: text, Media: msg.Media, NoPreview: true}); err != nil {
		r.lost(ctx, err)
		return nil
	}
	log.Info().Str("event", "disclaimer_edit").Int("pinned_id", r.tracked).Str("snippet", logging.Snippet(text, 30)).Msg("disclaimer updated")
	return nil
}

// adopt scans recent destination messages for a pinned disclaimer.
func (r *Reconciler) adopt(ctx context.Context) {
	if r.lookback <= 0 {
		return
	}
	log := logging.Ctx(ctx)
	msgs, err := r.platform.Recent(ctx, r.dest, r.lookback)
	if err != nil {
		log.Warn().Err(err).Str("event", "disclaimer_scan").Msg("pinned scan failed, treating as not found")
		return
	}
	for _, m := range msgs {
		if m.Pinned && strings.Contains(m.Text, r.marker) {
			r.track(ctx, m.ID)
			log.Info().Str("event", "disclaimer_adopt").Int("pinned_id", m.ID).Msg("existing pinned disclaimer adopted")
			return
		}
	}
	log.Info().Str("event", "disclaimer_scan").Int("lookback", r.lookback).Msg("no pinned disclaimer found")
}

func (r *Reconciler) track(ctx context.Context, id int) {
	r.tracked = id
	if err := r.store.SetPinnedID(r.dest, id); err != nil {
		logging.Ctx(ctx).Error().Err(err).Int("pinned_id", id).Msg("persist pinned id failed")
	}
}

// lost drops the tracked reference; the next disclaimer recreates it.
func (r *Reconciler) lost(ctx context.Context, cause error) {
	log := logging.Ctx(ctx)
	log.Warn().Err(cause).Str("event", "pin_lost").Int("pinned_id", r.tracked).
		Msg("tracked disclaimer unavailable, it will be recreated on the next one")
	r.tracked = 0
	if err := r.store.ClearPinnedID(r.dest); err != nil {
		log.Error().Err(err).Msg("clear pinned id failed")
	}
}
