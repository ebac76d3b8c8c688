package relay

import (
	"context"
	"fmt"
	"sync"

	"tsignals-relay/internal/logging"
)

// Syncer replays source channel history through the Router once.
type Syncer struct {
	history HistorySource
	store   StateStore
	router  *Router
	sources []int64

	mu   sync.Mutex
	last map[int64]int // newest replayed id per source
}

// NewSyncer returns a Syncer over sources in the given order.
func NewSyncer(h HistorySource, store StateStore, router *Router, sources []int64) *Syncer {
	return &Syncer{history: h, store: store, router: router, sources: sources, last: make(map[int64]int)}
}

// Replayed reports whether message id of source was already covered by the
// history walk. History is walked oldest first, so anything at or below the
// newest replayed id was seen.
func (s *Syncer) Replayed(source int64, id int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return id <= s.last[source]
}

func (s *Syncer) seen(source int64, id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id > s.last[source] {
		s.last[source] = id
	}
}

// Run replays every source unless the sync marker is already set. The marker
// is set only after all channels were walked to the end.
func (s *Syncer) Run(ctx context.Context) error {
	log := logging.Ctx(ctx)

	done, err := s.store.SyncCompleted()
	if err != nil {
		return fmt.Errorf("read sync marker: %w", err)
	}
	if done {
		log.Info().Str("event", "sync_skip").Msg("history already synchronized")
		return nil
	}

	log.Info().Str("event", "sync_start").Int("channels", len(s.sources)).Msg("initial history sync started, this may take a while")
	for _, src := range s.sources {
		chCtx := logging.WithChannel(ctx, src)
		routed, failed := 0, 0
		err := s.history.History(chCtx, src, func(ev Event) error {
			m, ok := ev.(ContentMessage)
			if !ok {
				if se, ok := ev.(ServiceEvent); ok {
					s.seen(src, se.ID)
				}
				return nil
			}
			s.seen(src, m.ID)
			evCtx := logging.WithMessage(logging.WithChannel(logging.Context(chCtx), src), m.ID)
			routed++
			if err := s.router.Route(evCtx, ev); err != nil {
				failed++
				logging.Ctx(evCtx).Error().Err(err).Str("event", "sync_route").Msg("replayed message failed")
			}
			return ctx.Err()
		})
		if err != nil {
			return fmt.Errorf("sync channel %d: %w", src, err)
		}
		logging.Ctx(chCtx).Info().Str("event", "sync_channel").Int("routed", routed).Int("failed", failed).Msg("channel synchronized")
	}

	if err := s.store.MarkSyncCompleted(); err != nil {
		return fmt.Errorf("set sync marker: %w", err)
	}
	log.Info().Str("event", "sync_done").Msg("initial history sync completed")
	return nil
}
