package mtproto

import (
	"github.com/gotd/td/tg"

	"tsignals-relay/internal/relay"
)

// Marked ids follow the Bot API / Telethon convention: users are positive,
// basic groups are negated, channels are -(1e12 + id).
const channelOffset = int64(1000000000000)

// markedID returns the marked id of p.
func markedID(p tg.PeerClass) int64 {
	switch p := p.(type) {
	case *tg.PeerUser:
		return p.UserID
	case *tg.PeerChat:
		return -p.ChatID
	case *tg.PeerChannel:
		return -(channelOffset + p.ChannelID)
	}
	return 0
}

// markedInputID returns the marked id of an input peer, zero for self or
// empty peers.
func markedInputID(p tg.InputPeerClass) int64 {
	switch p := p.(type) {
	case *tg.InputPeerUser:
		return p.UserID
	case *tg.InputPeerChat:
		return -p.ChatID
	case *tg.InputPeerChannel:
		return -(channelOffset + p.ChannelID)
	}
	return 0
}

// channelMarkedID is markedID for a bare channel id.
func channelMarkedID(channelID int64) int64 {
	return -(channelOffset + channelID)
}

// toEvent converts a raw message. ok is false for empty messages.
func toEvent(m tg.MessageClass) (relay.Event, bool) {
	switch m := m.(type) {
	case *tg.Message:
		return relay.ContentMessage{
			ID:        m.ID,
			SourceID:  markedID(m.PeerID),
			Text:      m.Message,
			Media:     m.Media,
			Pinned:    m.Pinned,
			GroupedID: m.GroupedID,
		}, true
	case *tg.MessageService:
		return relay.ServiceEvent{SourceID: markedID(m.PeerID), ID: m.ID}, true
	}
	return nil, false
}

// inputMedia turns received media back into something sendable. Only photos
// and documents (which cover video, audio, voice, stickers and animations)
// can be re-sent by reference.
func inputMedia(media any) (tg.InputMediaClass, bool) {
	switch m := media.(type) {
	case *tg.MessageMediaPhoto:
		if p, ok := m.Photo.(*tg.Photo); ok {
			return &tg.InputMediaPhoto{ID: p.AsInput()}, true
		}
	case *tg.MessageMediaDocument:
		if d, ok := m.Document.(*tg.Document); ok {
			return &tg.InputMediaDocument{ID: d.AsInput()}, true
		}
	}
	return nil, false
}

// sentID finds the id of the message created by a send with randomID.
func sentID(u tg.UpdatesClass, randomID int64) (int, bool) {
	var list []tg.UpdateClass
	switch u := u.(type) {
	case *tg.UpdateShortSentMessage:
		return u.ID, true
	case *tg.Updates:
		list = u.Updates
	case *tg.UpdatesCombined:
		list = u.Updates
	default:
		return 0, false
	}
	fallback := 0
	for _, upd := range list {
		switch upd := upd.(type) {
		case *tg.UpdateMessageID:
			if upd.RandomID == randomID {
				return upd.ID, true
			}
		case *tg.UpdateNewChannelMessage:
			fallback = upd.Message.GetID()
		case *tg.UpdateNewMessage:
			fallback = upd.Message.GetID()
		}
	}
	return fallback, fallback != 0
}

// messagesOf extracts the message list of a history or lookup response.
func messagesOf(resp tg.MessagesMessagesClass) []tg.MessageClass {
	mod, ok := resp.AsModified()
	if !ok {
		return nil
	}
	return mod.GetMessages()
}
