// Package bot wires configuration, state, the Telegram transport and the
// relay together.
package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"tsignals-relay/internal/config"
	"tsignals-relay/internal/crypt"
	"tsignals-relay/internal/logging"
	"tsignals-relay/internal/relay"
	"tsignals-relay/internal/storage"
	"tsignals-relay/internal/telegram/botapi"
	"tsignals-relay/internal/telegram/mtproto"
	"tsignals-relay/internal/transform"
)

const retryInitial = 500 * time.Millisecond

// transport is a Telegram connection the relay can run on.
type transport interface {
	relay.Platform
	relay.HistorySource
	Run(ctx context.Context, handler relay.Handler, ready func(ctx context.Context) error) error
}

// Relay is a fully wired relay waiting to be run.
type Relay struct {
	cfg        *config.Config
	store      *storage.Store
	transport  transport
	router     *relay.Router
	reconciler *relay.Reconciler
	syncer     *relay.Syncer

	// Live events are held while history is replayed and released in
	// arrival order afterwards.
	mu      sync.Mutex
	holding bool
	held    []relay.Event
}

// New opens the state store and builds the relay for cfg.
func New(cfg *config.Config) (*Relay, error) {
	store, err := storage.Open(cfg.StatePath)
	if err != nil {
		return nil, fmt.Errorf("storage init: %w", err)
	}
	r, err := build(cfg, store)
	if err != nil {
		store.Close()
		return nil, err
	}
	return r, nil
}

func build(cfg *config.Config, store *storage.Store) (*Relay, error) {
	if cfg.PinnedSeed > 0 {
		seeded, err := store.SeedPinnedID(cfg.Destination, cfg.PinnedSeed)
		if err != nil {
			return nil, fmt.Errorf("seed pinned id: %w", err)
		}
		if seeded {
			logging.Log.Info().Int("pinned_id", cfg.PinnedSeed).Msg("pinned message id seeded from PINNED_MESSAGE_ID")
		}
	}

	t, err := newTransport(cfg, store)
	if err != nil {
		return nil, err
	}
	return assemble(cfg, store, t)
}

// assemble builds the relay components on top of t.
func assemble(cfg *config.Config, store *storage.Store, t transport) (*Relay, error) {
	platform := relay.WithRetry(t, cfg.RetryAttempts, retryInitial)
	tr := transform.New(cfg.Replacements)
	fwd := relay.NewForwarder(platform, tr, cfg.Destination)
	rec := relay.NewReconciler(platform, store, tr, cfg.Destination, cfg.Phrase, cfg.PinLookback)
	if err := rec.Restore(); err != nil {
		return nil, err
	}
	if id := rec.Tracked(); id != 0 {
		logging.Log.Info().Int("pinned_id", id).Msg("tracked disclaimer restored")
	}
	router := relay.NewRouter(fwd, rec, cfg.Phrase)
	return &Relay{
		cfg:        cfg,
		store:      store,
		transport:  t,
		router:     router,
		reconciler: rec,
		syncer:     relay.NewSyncer(t, store, router, cfg.Sources),
	}, nil
}

func newTransport(cfg *config.Config, store *storage.Store) (transport, error) {
	switch cfg.Transport {
	case config.TransportBotAPI:
		t, err := botapi.New(botapi.Options{
			Token:   cfg.BotToken,
			Sources: cfg.Sources,
			Proxy:   cfg.Proxy,
			Outbox:  store,
		})
		if err != nil {
			return nil, err
		}
		return t, nil
	default:
		var cipher *crypt.Cipher
		if cfg.StateKey != "" {
			c, err := crypt.New(cfg.StateKey)
			if err != nil {
				return nil, fmt.Errorf("STATE_KEY: %w", err)
			}
			cipher = c
		}
		c, err := mtproto.New(mtproto.Options{
			APIID:         cfg.APIID,
			APIHash:       cfg.APIHash,
			SessionString: cfg.SessionString,
			Phone:         cfg.Phone,
			Password:      cfg.Password,
			Sources:       cfg.Sources,
			Proxy:         cfg.Proxy,
			Storage:       store.Session(cipher),
		})
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

// Run serves until ctx is done, replaying history first when due.
func (r *Relay) Run(ctx context.Context) error {
	defer r.store.Close()

	log := logging.Log
	if len(r.cfg.Sources) == 0 {
		log.Warn().Msg("CANALES_ORIGEN is empty, nothing will be forwarded")
	}
	log.Info().Str("event", "startup").Str("transport", r.cfg.Transport).
		Ints64("sources", r.cfg.Sources).Int64("dest", r.cfg.Destination).Msg("relay starting")

	r.mu.Lock()
	r.holding = r.cfg.InitialSync
	r.mu.Unlock()

	err := r.transport.Run(ctx, r.handle, r.ready)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// ready runs once the transport is connected.
func (r *Relay) ready(ctx context.Context) error {
	if !r.cfg.InitialSync {
		logging.Log.Info().Str("event", "sync_skip").Msg("initial sync disabled by PERFORM_INITIAL_SYNC")
		return nil
	}
	err := r.syncer.Run(ctx)
	switch {
	case err == nil:
	case errors.Is(err, relay.ErrUnsupported):
		logging.Log.Warn().Str("event", "sync_skip").Msg("transport cannot read history, initial sync skipped")
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		// The marker stays unset so the next start retries; live
		// forwarding carries on.
		logging.Log.Error().Err(err).Str("event", "sync_failed").Msg("initial sync failed")
	}
	r.release(ctx)
	return nil
}

// release routes the events held during replay, skipping those the history
// walk already covered, then lets live events through.
func (r *Relay) release(ctx context.Context) {
	for {
		r.mu.Lock()
		batch := r.held
		r.held = nil
		if len(batch) == 0 {
			r.holding = false
			r.mu.Unlock()
			return
		}
		r.mu.Unlock()

		for _, ev := range batch {
			if ctx.Err() != nil {
				return
			}
			if src, id := eventID(ev); r.syncer.Replayed(src, id) {
				logging.Log.Debug().Int64("channel_id", src).Int("message_id", id).Msg("held event already replayed")
				continue
			}
			r.route(ctx, ev)
		}
	}
}

func eventID(ev relay.Event) (int64, int) {
	switch ev := ev.(type) {
	case relay.ContentMessage:
		return ev.SourceID, ev.ID
	case relay.ServiceEvent:
		return ev.SourceID, ev.ID
	}
	return 0, 0
}

// handle receives one live event from the transport.
func (r *Relay) handle(ctx context.Context, ev relay.Event) {
	r.mu.Lock()
	if r.holding {
		r.held = append(r.held, ev)
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()
	r.route(ctx, ev)
}

// route relays one event. Failures are logged and dropped.
func (r *Relay) route(ctx context.Context, ev relay.Event) {
	ctx = logging.Context(ctx)
	switch ev := ev.(type) {
	case relay.ContentMessage:
		ctx = logging.WithMessage(logging.WithChannel(ctx, ev.SourceID), ev.ID)
		logging.Ctx(ctx).Debug().Str("event", "incoming").Str("snippet", logging.Snippet(ev.Text, 30)).Msg("message received")
	case relay.ServiceEvent:
		ctx = logging.WithMessage(logging.WithChannel(ctx, ev.SourceID), ev.ID)
	}
	if err := r.router.Route(ctx, ev); err != nil {
		logging.Ctx(ctx).Error().Err(err).Str("event", "route_failed").Msg("message not relayed")
	}
}
