// Package botapi connects the relay to Telegram through the Bot API using
// go-telegram/bot. The bot must be an administrator of the source and
// destination channels. The Bot API cannot read history, so initial sync and
// the pinned-message scan are unavailable; message fetches are answered from
// the local outbox of what the relay itself sent, after checking that the
// message still exists.
package botapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	tg "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"golang.org/x/sync/errgroup"

	"tsignals-relay/internal/config"
	"tsignals-relay/internal/logging"
	"tsignals-relay/internal/relay"
	"tsignals-relay/internal/storage"
)

const pollTimeout = time.Minute

// botAPI is the subset of *tg.Bot used here.
type botAPI interface {
	CopyMessage(ctx context.Context, params *tg.CopyMessageParams) (*models.MessageID, error)
	SendMessage(ctx context.Context, params *tg.SendMessageParams) (*models.Message, error)
	SendPhoto(ctx context.Context, params *tg.SendPhotoParams) (*models.Message, error)
	SendVideo(ctx context.Context, params *tg.SendVideoParams) (*models.Message, error)
	SendDocument(ctx context.Context, params *tg.SendDocumentParams) (*models.Message, error)
	SendAudio(ctx context.Context, params *tg.SendAudioParams) (*models.Message, error)
	SendAnimation(ctx context.Context, params *tg.SendAnimationParams) (*models.Message, error)
	SendVoice(ctx context.Context, params *tg.SendVoiceParams) (*models.Message, error)
	EditMessageText(ctx context.Context, params *tg.EditMessageTextParams) (*models.Message, error)
	EditMessageCaption(ctx context.Context, params *tg.EditMessageCaptionParams) (*models.Message, error)
	EditMessageMedia(ctx context.Context, params *tg.EditMessageMediaParams) (*models.Message, error)
	EditMessageReplyMarkup(ctx context.Context, params *tg.EditMessageReplyMarkupParams) (*models.Message, error)
	PinChatMessage(ctx context.Context, params *tg.PinChatMessageParams) (bool, error)
}

// Outbox remembers what the relay sent.
type Outbox interface {
	PutOutbox(dest int64, id int, rec storage.OutboxRecord) error
	Outbox(dest int64, id int) (storage.OutboxRecord, error)
	DeleteOutbox(dest int64, id int) error
}

// Options configures a Transport.
type Options struct {
	Token   string
	Sources []int64
	Proxy   *config.Proxy
	Outbox  Outbox
}

// Transport implements relay.Platform and relay.HistorySource over the
// Bot API.
type Transport struct {
	bot     *tg.Bot
	api     botAPI
	outbox  Outbox
	sources map[int64]bool
	handler relay.Handler
	now     func() time.Time
}

var (
	_ relay.Platform      = (*Transport)(nil)
	_ relay.HistorySource = (*Transport)(nil)
)

// New creates the bot. The token is checked against Telegram here.
func New(opts Options) (*Transport, error) {
	t := newTransport(nil, opts.Outbox, opts.Sources)

	botOpts := []tg.Option{
		tg.WithDefaultHandler(t.onUpdate),
	}
	if opts.Proxy != nil {
		u, err := url.Parse(opts.Proxy.URL())
		if err != nil {
			return nil, fmt.Errorf("proxy: %w", err)
		}
		client := &http.Client{
			Timeout:   pollTimeout + 10*time.Second,
			Transport: &http.Transport{Proxy: http.ProxyURL(u)},
		}
		botOpts = append(botOpts, tg.WithHTTPClient(pollTimeout, client))
	}
	b, err := tg.New(opts.Token, botOpts...)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	t.bot = b
	t.api = b
	return t, nil
}

func newTransport(api botAPI, outbox Outbox, sources []int64) *Transport {
	t := &Transport{
		api:     api,
		outbox:  outbox,
		sources: make(map[int64]bool, len(sources)),
		now:     time.Now,
	}
	for _, id := range sources {
		t.sources[id] = true
	}
	return t
}

// Run polls updates until ctx is done. ready runs alongside polling.
func (t *Transport) Run(ctx context.Context, handler relay.Handler, ready func(ctx context.Context) error) error {
	t.handler = handler
	me, err := t.bot.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("get me: %w", err)
	}
	logging.Log.Info().Str("event", "session_start").Int64("user_id", me.ID).Str("username", me.Username).Msg("bot started")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logging.Log.Info().Str("event", "listen").Msg("waiting for new messages")
		t.bot.Start(gctx)
		return nil
	})
	if ready != nil {
		g.Go(func() error { return ready(gctx) })
	}
	return g.Wait()
}

func (t *Transport) onUpdate(ctx context.Context, _ *tg.Bot, upd *models.Update) {
	m := upd.ChannelPost
	if m == nil {
		m = upd.Message
	}
	if m == nil || t.handler == nil || !t.sources[m.Chat.ID] {
		return
	}
	t.handler(ctx, toEvent(m))
}

func notModified(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "message is not modified")
}

// classify maps Bot API errors about missing or foreign messages onto
// relay.ErrMessageNotFound.
func classify(err error, id int) error {
	if err == nil {
		return nil
	}
	s := strings.ToLower(err.Error())
	if strings.Contains(s, "not found") || strings.Contains(s, "message_id_invalid") || strings.Contains(s, "can't be edited") {
		return fmt.Errorf("message %d: %w: %s", id, relay.ErrMessageNotFound, err)
	}
	return err
}

// Copy re-sends msg without a forward header.
func (t *Transport) Copy(ctx context.Context, dest int64, msg relay.ContentMessage) error {
	_, err := t.api.CopyMessage(ctx, &tg.CopyMessageParams{
		ChatID:     dest,
		FromChatID: msg.SourceID,
		MessageID:  msg.ID,
	})
	if err != nil {
		return fmt.Errorf("copy message: %w", err)
	}
	return nil
}

func noPreview(disabled bool) *models.LinkPreviewOptions {
	if !disabled {
		return nil
	}
	return &models.LinkPreviewOptions{IsDisabled: &disabled}
}

// Send posts out and records it in the outbox.
func (t *Transport) Send(ctx context.Context, dest int64, out relay.Outgoing) (int, error) {
	var (
		m   *models.Message
		err error
	)
	f, hasMedia := out.Media.(File)
	if hasMedia {
		m, err = t.sendFile(ctx, dest, f, out.Text)
	} else {
		m, err = t.api.SendMessage(ctx, &tg.SendMessageParams{
			ChatID:             dest,
			Text:               out.Text,
			LinkPreviewOptions: noPreview(out.NoPreview),
		})
	}
	if err != nil {
		return 0, fmt.Errorf("send message: %w", err)
	}
	t.record(ctx, dest, m.ID, out.Text, hasMedia)
	return m.ID, nil
}

func (t *Transport) sendFile(ctx context.Context, dest int64, f File, caption string) (*models.Message, error) {
	in := &models.InputFileString{Data: f.FileID}
	switch f.Kind {
	case KindPhoto:
		return t.api.SendPhoto(ctx, &tg.SendPhotoParams{ChatID: dest, Photo: in, Caption: caption})
	case KindVideo:
		return t.api.SendVideo(ctx, &tg.SendVideoParams{ChatID: dest, Video: in, Caption: caption})
	case KindAudio:
		return t.api.SendAudio(ctx, &tg.SendAudioParams{ChatID: dest, Audio: in, Caption: caption})
	case KindAnimation:
		return t.api.SendAnimation(ctx, &tg.SendAnimationParams{ChatID: dest, Animation: in, Caption: caption})
	case KindVoice:
		return t.api.SendVoice(ctx, &tg.SendVoiceParams{ChatID: dest, Voice: in, Caption: caption})
	default:
		return t.api.SendDocument(ctx, &tg.SendDocumentParams{ChatID: dest, Document: in, Caption: caption})
	}
}

func inputMedia(f File, caption string) (models.InputMedia, bool) {
	switch f.Kind {
	case KindPhoto:
		return &models.InputMediaPhoto{Media: f.FileID, Caption: caption}, true
	case KindVideo:
		return &models.InputMediaVideo{Media: f.FileID, Caption: caption}, true
	case KindAudio:
		return &models.InputMediaAudio{Media: f.FileID, Caption: caption}, true
	case KindAnimation:
		return &models.InputMediaAnimation{Media: f.FileID, Caption: caption}, true
	case KindDocument:
		return &models.InputMediaDocument{Media: f.FileID, Caption: caption}, true
	}
	return nil, false
}

// Edit updates message id. Text-only messages get their text replaced,
// media messages their caption (and file, when out carries one).
func (t *Transport) Edit(ctx context.Context, dest int64, id int, out relay.Outgoing) error {
	var err error
	f, withFile := out.Media.(File)
	media, editable := inputMedia(f, out.Text)
	hasMedia := withFile

	switch {
	case withFile && editable:
		_, err = t.api.EditMessageMedia(ctx, &tg.EditMessageMediaParams{ChatID: dest, MessageID: id, Media: media})
	case withFile || t.hadMedia(dest, id):
		hasMedia = true
		_, err = t.api.EditMessageCaption(ctx, &tg.EditMessageCaptionParams{ChatID: dest, MessageID: id, Caption: out.Text})
	default:
		_, err = t.api.EditMessageText(ctx, &tg.EditMessageTextParams{
			ChatID:             dest,
			MessageID:          id,
			Text:               out.Text,
			LinkPreviewOptions: noPreview(out.NoPreview),
		})
	}
	if notModified(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("edit message: %w", t.gone(ctx, dest, id, classify(err, id)))
	}
	t.record(ctx, dest, id, out.Text, hasMedia)
	return nil
}

// Pin pins id silently.
func (t *Transport) Pin(ctx context.Context, dest int64, id int) error {
	_, err := t.api.PinChatMessage(ctx, &tg.PinChatMessageParams{
		ChatID:              dest,
		MessageID:           id,
		DisableNotification: true,
	})
	if err != nil {
		return fmt.Errorf("pin message: %w", t.gone(ctx, dest, id, classify(err, id)))
	}
	return nil
}

// Message answers from the outbox; messages the relay never wrote are
// reported as not found. The Bot API has no message lookup, so existence
// is checked with an empty reply markup edit: Telegram answers "not
// modified" for a live message and "not found" for a deleted one.
func (t *Transport) Message(ctx context.Context, dest int64, id int) (relay.ContentMessage, error) {
	rec, err := t.outbox.Outbox(dest, id)
	if errors.Is(err, storage.ErrNotRecorded) {
		return relay.ContentMessage{}, fmt.Errorf("message %d: %w", id, relay.ErrMessageNotFound)
	}
	if err != nil {
		return relay.ContentMessage{}, fmt.Errorf("read outbox: %w", err)
	}
	_, err = t.api.EditMessageReplyMarkup(ctx, &tg.EditMessageReplyMarkupParams{ChatID: dest, MessageID: id})
	if err != nil && !notModified(err) {
		if err := classify(err, id); errors.Is(err, relay.ErrMessageNotFound) {
			return relay.ContentMessage{}, t.gone(ctx, dest, id, err)
		}
		// Only a definite "not found" drops the record.
		logging.Ctx(ctx).Warn().Err(err).Int("message_id", id).Msg("existence check failed, using outbox")
	}
	cm := relay.ContentMessage{ID: id, SourceID: dest, Text: rec.Text}
	if rec.HasMedia {
		cm.Media = File{}
	}
	return cm, nil
}

// Recent is not available to bots.
func (t *Transport) Recent(context.Context, int64, int) ([]relay.ContentMessage, error) {
	return nil, relay.ErrUnsupported
}

// History is not available to bots.
func (t *Transport) History(context.Context, int64, func(relay.Event) error) error {
	return relay.ErrUnsupported
}

// gone drops the outbox record of id when err says the message no longer
// exists, and returns err.
func (t *Transport) gone(ctx context.Context, dest int64, id int, err error) error {
	if !errors.Is(err, relay.ErrMessageNotFound) {
		return err
	}
	if derr := t.outbox.DeleteOutbox(dest, id); derr != nil {
		logging.Ctx(ctx).Error().Err(derr).Int("message_id", id).Msg("outbox delete failed")
	}
	return err
}

func (t *Transport) hadMedia(dest int64, id int) bool {
	rec, err := t.outbox.Outbox(dest, id)
	return err == nil && rec.HasMedia
}

func (t *Transport) record(ctx context.Context, dest int64, id int, text string, hasMedia bool) {
	rec := storage.OutboxRecord{Text: text, HasMedia: hasMedia, When: t.now().Unix()}
	if err := t.outbox.PutOutbox(dest, id, rec); err != nil {
		logging.Ctx(ctx).Error().Err(err).Int("message_id", id).Msg("outbox write failed")
	}
}
