package mtproto

import (
	"context"
	"sort"

	"github.com/go-faster/errors"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"

	"tsignals-relay/internal/relay"
)

const historyBatch = 100

// notFound maps RPC errors meaning "that message is gone or not ours".
func notFound(err error, id int) error {
	if tgerr.Is(err, "MESSAGE_ID_INVALID", "MESSAGE_IDS_EMPTY", "MESSAGE_AUTHOR_REQUIRED") {
		return errors.Wrapf(relay.ErrMessageNotFound, "message %d: %s", id, err)
	}
	return err
}

// Copy forwards msg without the author header, which keeps media,
// formatting and albums intact.
func (c *Client) Copy(ctx context.Context, dest int64, msg relay.ContentMessage) error {
	from, err := c.resolve(msg.SourceID)
	if err != nil {
		return err
	}
	to, err := c.resolve(dest)
	if err != nil {
		return err
	}
	rid, err := randomID()
	if err != nil {
		return err
	}
	_, err = c.api.MessagesForwardMessages(ctx, &tg.MessagesForwardMessagesRequest{
		FromPeer:   from,
		ToPeer:     to,
		ID:         []int{msg.ID},
		RandomID:   []int64{rid},
		DropAuthor: true,
	})
	return errors.Wrap(err, "forward")
}

// Send posts out.Text, with out.Media when it can be re-sent. out.Key is
// used as random_id so Telegram drops a retried duplicate.
func (c *Client) Send(ctx context.Context, dest int64, out relay.Outgoing) (int, error) {
	to, err := c.resolve(dest)
	if err != nil {
		return 0, err
	}
	rid := out.Key
	if rid == 0 {
		if rid, err = randomID(); err != nil {
			return 0, err
		}
	}

	var upd tg.UpdatesClass
	if media, ok := inputMedia(out.Media); ok {
		upd, err = c.api.MessagesSendMedia(ctx, &tg.MessagesSendMediaRequest{
			Peer:     to,
			Media:    media,
			Message:  out.Text,
			RandomID: rid,
		})
	} else {
		upd, err = c.api.MessagesSendMessage(ctx, &tg.MessagesSendMessageRequest{
			Peer:      to,
			Message:   out.Text,
			RandomID:  rid,
			NoWebpage: out.NoPreview,
		})
	}
	if err != nil {
		return 0, errors.Wrap(err, "send")
	}
	id, ok := sentID(upd, rid)
	if !ok {
		return 0, errors.Errorf("send: no message id in %T", upd)
	}
	return id, nil
}

// Edit replaces the text (and media, when given) of message id.
func (c *Client) Edit(ctx context.Context, dest int64, id int, out relay.Outgoing) error {
	to, err := c.resolve(dest)
	if err != nil {
		return err
	}
	req := &tg.MessagesEditMessageRequest{
		Peer:      to,
		ID:        id,
		Message:   out.Text,
		NoWebpage: out.NoPreview,
	}
	if media, ok := inputMedia(out.Media); ok {
		req.Media = media
	}
	_, err = c.api.MessagesEditMessage(ctx, req)
	if tgerr.Is(err, "MESSAGE_NOT_MODIFIED") {
		return nil
	}
	if err != nil {
		return errors.Wrap(notFound(err, id), "edit")
	}
	return nil
}

// Pin silently pins message id.
func (c *Client) Pin(ctx context.Context, dest int64, id int) error {
	to, err := c.resolve(dest)
	if err != nil {
		return err
	}
	_, err = c.api.MessagesUpdatePinnedMessage(ctx, &tg.MessagesUpdatePinnedMessageRequest{
		Peer:   to,
		ID:     id,
		Silent: true,
	})
	return errors.Wrap(notFound(err, id), "pin")
}

// Message fetches message id from dest.
func (c *Client) Message(ctx context.Context, dest int64, id int) (relay.ContentMessage, error) {
	to, err := c.resolve(dest)
	if err != nil {
		return relay.ContentMessage{}, err
	}
	ids := []tg.InputMessageClass{&tg.InputMessageID{ID: id}}

	var resp tg.MessagesMessagesClass
	if ch, ok := to.(*tg.InputPeerChannel); ok {
		resp, err = c.api.ChannelsGetMessages(ctx, &tg.ChannelsGetMessagesRequest{
			Channel: &tg.InputChannel{ChannelID: ch.ChannelID, AccessHash: ch.AccessHash},
			ID:      ids,
		})
	} else {
		resp, err = c.api.MessagesGetMessages(ctx, ids)
	}
	if err != nil {
		return relay.ContentMessage{}, errors.Wrap(notFound(err, id), "get message")
	}
	for _, m := range messagesOf(resp) {
		if ev, ok := toEvent(m); ok {
			if cm, ok := ev.(relay.ContentMessage); ok && cm.ID == id {
				return cm, nil
			}
		}
	}
	return relay.ContentMessage{}, errors.Wrapf(relay.ErrMessageNotFound, "message %d", id)
}

// Recent returns the newest limit content messages of dest, newest first.
func (c *Client) Recent(ctx context.Context, dest int64, limit int) ([]relay.ContentMessage, error) {
	to, err := c.resolve(dest)
	if err != nil {
		return nil, err
	}
	resp, err := c.api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
		Peer:  to,
		Limit: limit,
	})
	if err != nil {
		return nil, errors.Wrap(err, "get history")
	}
	var out []relay.ContentMessage
	for _, m := range messagesOf(resp) {
		if ev, ok := toEvent(m); ok {
			if cm, ok := ev.(relay.ContentMessage); ok {
				out = append(out, cm)
			}
		}
	}
	return out, nil
}

// History walks source from its first message to its newest, in batches
// requested with a negative add_offset so each page lies after offset.
func (c *Client) History(ctx context.Context, source int64, fn func(relay.Event) error) error {
	peer, err := c.resolve(source)
	if err != nil {
		return err
	}
	offset := 1
	for {
		resp, err := c.api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
			Peer:      peer,
			OffsetID:  offset,
			AddOffset: -historyBatch,
			Limit:     historyBatch,
		})
		if err != nil {
			return errors.Wrapf(err, "get history from %d", offset)
		}
		msgs := messagesOf(resp)
		sort.Slice(msgs, func(i, j int) bool { return msgs[i].GetID() < msgs[j].GetID() })

		next := offset
		for _, m := range msgs {
			if m.GetID() < offset {
				continue
			}
			next = m.GetID() + 1
			ev, ok := toEvent(m)
			if !ok {
				continue
			}
			if err := fn(ev); err != nil {
				return err
			}
		}
		if next == offset {
			return nil
		}
		offset = next
	}
}
