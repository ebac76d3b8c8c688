// Package mtproto connects the relay to Telegram as a user account over
// MTProto using gotd.
package mtproto

import (
	"bufio"
	"context"
	"crypto/rand"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/gotd/contrib/middleware/floodwait"
	"github.com/gotd/contrib/middleware/ratelimit"
	"github.com/gotd/td/crypto"
	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/telegram/dcs"
	"github.com/gotd/td/telegram/query"
	"github.com/gotd/td/telegram/updates"
	"github.com/gotd/td/tg"
	"golang.org/x/net/proxy"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"tsignals-relay/internal/config"
	"tsignals-relay/internal/logging"
	"tsignals-relay/internal/relay"
)

// Options configures a Client.
type Options struct {
	APIID         int
	APIHash       string
	SessionString string
	Phone         string
	Password      string
	Sources       []int64
	Proxy         *config.Proxy
	Storage       session.Storage
}

// Client is a user account session implementing relay.Platform and
// relay.HistorySource.
type Client struct {
	opts       Options
	client     *telegram.Client
	gaps       *updates.Manager
	dispatcher tg.UpdateDispatcher
	api        *tg.Client
	sources    map[int64]bool

	mu    sync.RWMutex
	peers map[int64]tg.InputPeerClass

	handler relay.Handler
}

var (
	_ relay.Platform      = (*Client)(nil)
	_ relay.HistorySource = (*Client)(nil)
)

// New builds the client; no network activity happens until Run.
func New(opts Options) (*Client, error) {
	c := &Client{
		opts:       opts,
		dispatcher: tg.NewUpdateDispatcher(),
		sources:    make(map[int64]bool, len(opts.Sources)),
		peers:      make(map[int64]tg.InputPeerClass),
	}
	for _, id := range opts.Sources {
		c.sources[id] = true
	}
	c.gaps = updates.New(updates.Config{Handler: c.dispatcher})

	tOpts := telegram.Options{
		SessionStorage: opts.Storage,
		UpdateHandler:  c.gaps,
		Middlewares: []telegram.Middleware{
			floodwait.NewSimpleWaiter().WithMaxRetries(5),
			ratelimit.New(rate.Every(100*time.Millisecond), 5),
		},
	}
	if opts.Proxy != nil {
		resolver, err := proxyResolver(opts.Proxy)
		if err != nil {
			return nil, errors.Wrap(err, "proxy")
		}
		tOpts.Resolver = resolver
	}
	c.client = telegram.NewClient(opts.APIID, opts.APIHash, tOpts)
	c.api = c.client.API()

	c.dispatcher.OnNewChannelMessage(func(ctx context.Context, e tg.Entities, u *tg.UpdateNewChannelMessage) error {
		c.rememberChannels(e)
		c.dispatch(ctx, u.Message)
		return nil
	})
	c.dispatcher.OnNewMessage(func(ctx context.Context, e tg.Entities, u *tg.UpdateNewMessage) error {
		c.rememberChannels(e)
		c.dispatch(ctx, u.Message)
		return nil
	})
	return c, nil
}

func proxyResolver(p *config.Proxy) (dcs.Resolver, error) {
	u, err := url.Parse(p.URL())
	if err != nil {
		return nil, err
	}
	d, err := proxy.FromURL(u, proxy.Direct)
	if err != nil {
		return nil, err
	}
	cd, ok := d.(proxy.ContextDialer)
	if !ok {
		return nil, errors.Errorf("%s proxy does not support dialing with context", p.Type)
	}
	return dcs.Plain(dcs.PlainOptions{Dial: cd.DialContext}), nil
}

// Run connects, authorizes, resolves peers and then serves updates until
// ctx is done. ready runs once peers are known, alongside the update loop.
func (c *Client) Run(ctx context.Context, handler relay.Handler, ready func(ctx context.Context) error) error {
	c.handler = handler
	if err := c.importSession(ctx); err != nil {
		return err
	}
	return c.client.Run(ctx, func(ctx context.Context) error {
		if err := c.authorize(ctx); err != nil {
			return errors.Wrap(err, "authorize")
		}
		self, err := c.client.Self(ctx)
		if err != nil {
			return errors.Wrap(err, "self")
		}
		logging.Log.Info().Str("event", "session_start").Int64("user_id", self.ID).Str("username", self.Username).Msg("session started")

		if err := c.loadDialogs(ctx); err != nil {
			return errors.Wrap(err, "load dialogs")
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return c.gaps.Run(gctx, c.api, self.ID, updates.AuthOptions{
				OnStart: func(ctx context.Context) {
					logging.Log.Info().Str("event", "listen").Msg("waiting for new messages")
				},
			})
		})
		if ready != nil {
			g.Go(func() error { return ready(gctx) })
		}
		return g.Wait()
	})
}

// importSession converts a Telethon string session into the gotd storage.
func (c *Client) importSession(ctx context.Context) error {
	if c.opts.SessionString == "" {
		return nil
	}
	data, err := session.TelethonSession(c.opts.SessionString)
	if err != nil {
		return errors.Wrap(err, "decode SESSION_STRING")
	}
	loader := session.Loader{Storage: c.opts.Storage}
	if err := loader.Save(ctx, data); err != nil {
		return errors.Wrap(err, "store imported session")
	}
	return nil
}

func (c *Client) authorize(ctx context.Context) error {
	status, err := c.client.Auth().Status(ctx)
	if err != nil {
		return errors.Wrap(err, "auth status")
	}
	if status.Authorized {
		return nil
	}
	if c.opts.Phone == "" {
		return errors.New("session is not authorized: set SESSION_STRING or PHONE_NUMBER")
	}
	flow := auth.NewFlow(
		auth.Constant(c.opts.Phone, c.opts.Password, auth.CodeAuthenticatorFunc(promptCode)),
		auth.SendCodeOptions{},
	)
	return c.client.Auth().IfNecessary(ctx, flow)
}

func promptCode(_ context.Context, _ *tg.AuthSentCode) (string, error) {
	fmt.Print("Enter the login code: ")
	code, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(code), nil
}

// loadDialogs caches input peers (with access hashes) for every dialog.
func (c *Client) loadDialogs(ctx context.Context) error {
	iter := query.GetDialogs(c.api).BatchSize(100).Iter()
	n := 0
	for iter.Next(ctx) {
		p := iter.Value().Peer
		if id := markedInputID(p); id != 0 {
			c.mu.Lock()
			c.peers[id] = p
			c.mu.Unlock()
			n++
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	for id := range c.sources {
		if _, err := c.resolve(id); err != nil {
			logging.Log.Warn().Int64("channel_id", id).Msg("source channel not found among dialogs")
		}
	}
	logging.Log.Info().Str("event", "dialogs_loaded").Int("peers", n).Msg("dialogs loaded")
	return nil
}

func (c *Client) rememberChannels(e tg.Entities) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, ch := range e.Channels {
		c.peers[channelMarkedID(id)] = &tg.InputPeerChannel{ChannelID: ch.ID, AccessHash: ch.AccessHash}
	}
}

func (c *Client) resolve(id int64) (tg.InputPeerClass, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.peers[id]
	if !ok {
		return nil, errors.Errorf("peer %d is not among the account's dialogs", id)
	}
	return p, nil
}

func (c *Client) dispatch(ctx context.Context, m tg.MessageClass) {
	ev, ok := toEvent(m)
	if !ok || c.handler == nil {
		return
	}
	var src int64
	switch ev := ev.(type) {
	case relay.ContentMessage:
		src = ev.SourceID
	case relay.ServiceEvent:
		src = ev.SourceID
	}
	if !c.sources[src] {
		return
	}
	c.handler(ctx, ev)
}

func randomID() (int64, error) {
	return crypto.RandInt64(rand.Reader)
}
