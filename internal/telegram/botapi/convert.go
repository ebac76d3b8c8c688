package botapi

import (
	"github.com/go-telegram/bot/models"

	"tsignals-relay/internal/relay"
)

// File kinds the Bot API can re-send by file id.
const (
	KindPhoto     = "photo"
	KindVideo     = "video"
	KindDocument  = "document"
	KindAudio     = "audio"
	KindAnimation = "animation"
	KindVoice     = "voice"
)

// File is the media handle carried in relay.ContentMessage.Media by this
// transport.
type File struct {
	Kind   string
	FileID string
}

// isService reports whether m is a chat notice rather than a post.
func isService(m *models.Message) bool {
	return m.PinnedMessage != nil ||
		len(m.NewChatMembers) > 0 ||
		m.LeftChatMember != nil ||
		m.NewChatTitle != "" ||
		len(m.NewChatPhoto) > 0 ||
		m.DeleteChatPhoto ||
		m.GroupChatCreated ||
		m.SupergroupChatCreated ||
		m.ChannelChatCreated
}

func fileOf(m *models.Message) *File {
	switch {
	case len(m.Photo) > 0:
		// The last size is the largest.
		return &File{Kind: KindPhoto, FileID: m.Photo[len(m.Photo)-1].FileID}
	case m.Animation != nil:
		// Animations also carry a Document; check them first.
		return &File{Kind: KindAnimation, FileID: m.Animation.FileID}
	case m.Video != nil:
		return &File{Kind: KindVideo, FileID: m.Video.FileID}
	case m.Audio != nil:
		return &File{Kind: KindAudio, FileID: m.Audio.FileID}
	case m.Voice != nil:
		return &File{Kind: KindVoice, FileID: m.Voice.FileID}
	case m.Document != nil:
		return &File{Kind: KindDocument, FileID: m.Document.FileID}
	}
	return nil
}

// toEvent converts a channel post or group message.
func toEvent(m *models.Message) relay.Event {
	if isService(m) {
		return relay.ServiceEvent{SourceID: m.Chat.ID, ID: m.ID}
	}
	cm := relay.ContentMessage{
		ID:       m.ID,
		SourceID: m.Chat.ID,
		Text:     m.Text,
	}
	if f := fileOf(m); f != nil {
		cm.Media = *f
		cm.Text = m.Caption
	}
	return cm
}
