package relay

import (
	"context"
	"fmt"

	"tsignals-relay/internal/logging"
	"tsignals-relay/internal/transform"
)

// Forwarder relays normal messages to the destination.
type Forwarder struct {
	platform  Platform
	transform *transform.Transformer
	dest      int64
}

// NewForwarder returns a Forwarder writing to dest.
func NewForwarder(p Platform, t *transform.Transformer, dest int64) *Forwarder {
	return &Forwarder{platform: p, transform: t, dest: dest}
}

// Forward copies msg verbatim when the transform leaves it untouched, and
// sends a rebuilt message otherwise.
func (f *Forwarder) Forward(ctx context.Context, msg ContentMessage) error {
	log := logging.Ctx(ctx)

	if msg.Text == "" {
		if err := f.platform.Copy(ctx, f.dest, msg); err != nil {
			return fmt.Errorf("copy message %d: %w", msg.ID, err)
		}
		log.Info().Str("event", "forward_copy").Str("reason", "no_text").Int64("dest", f.dest).Msg("message copied")
		return nil
	}

	text := f.transform.Apply(msg.Text)
	if text == msg.Text {
		if err := f.platform.Copy(ctx, f.dest, msg); err != nil {
			return fmt.Errorf("copy message %d: %w", msg.ID, err)
		}
		log.Info().Str("event", "forward_copy").Str("reason", "unchanged").Int64("dest", f.dest).Msg("message copied")
		return nil
	}

	id, err := f.platform.Send(ctx, f.dest, Outgoing{Text: text, Media: msg.Media, NoPreview: true})
	if err != nil {
		return fmt.Errorf("send message %d: %w", msg.ID, err)
	}
	log.Info().Str("event", "forward_send").Int64("dest", f.dest).Int("sent_id", id).
		Str("snippet", logging.Snippet(text, 30)).Msg("message rewritten and sent")
	return nil
}
