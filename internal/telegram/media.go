package telegram

import (
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/wapuda/autorename/internal/jobs"
)

// WorkItem builds the queue entry for a media message. ok is false for
// messages without a renameable attachment.
func WorkItem(m *tgbotapi.Message) (it jobs.WorkItem, ok bool) {
	if m == nil || m.Chat == nil {
		return jobs.WorkItem{}, false
	}
	it = jobs.WorkItem{
		ID:        jobs.NewID(),
		MessageID: m.MessageID,
		ChatID:    m.Chat.ID,
		Caption:   m.Caption,
		Received:  time.Unix(int64(m.Date), 0),
	}
	if m.From != nil {
		it.UserID = m.From.ID
		it.Username = m.From.UserName
		it.FirstName = m.From.FirstName
	}

	switch {
	case m.Document != nil:
		d := m.Document
		it.Kind, it.FileID, it.FileName, it.MimeType, it.Size = jobs.KindDocument, d.FileID, d.FileName, d.MimeType, int64(d.FileSize)
	case m.Video != nil:
		v := m.Video
		it.Kind, it.FileID, it.FileName, it.MimeType, it.Size = jobs.KindVideo, v.FileID, v.FileName, v.MimeType, int64(v.FileSize)
		it.Duration = v.Duration
	case m.Audio != nil:
		a := m.Audio
		it.Kind, it.FileID, it.FileName, it.MimeType, it.Size = jobs.KindAudio, a.FileID, a.FileName, a.MimeType, int64(a.FileSize)
		it.Duration = a.Duration
	case m.Voice != nil:
		v := m.Voice
		it.Kind, it.FileID, it.MimeType, it.Size = jobs.KindVoice, v.FileID, v.MimeType, int64(v.FileSize)
		it.Duration = v.Duration
	case m.Animation != nil:
		a := m.Animation
		it.Kind, it.FileID, it.FileName, it.MimeType, it.Size = jobs.KindAnimation, a.FileID, a.FileName, a.MimeType, int64(a.FileSize)
		it.Duration = a.Duration
	default:
		return jobs.WorkItem{}, false
	}
	return it, true
}

// LargestPhoto returns the file id of the biggest size of a photo message.
func LargestPhoto(m *tgbotapi.Message) (string, bool) {
	if m == nil || len(m.Photo) == 0 {
		return "", false
	}
	return m.Photo[len(m.Photo)-1].FileID, true
}

// EmbeddedThumb returns the thumbnail the sender attached to a media file.
func EmbeddedThumb(m *tgbotapi.Message) (string, bool) {
	if m == nil {
		return "", false
	}
	var thumb *tgbotapi.PhotoSize
	switch {
	case m.Document != nil:
		thumb = m.Document.Thumbnail
	case m.Video != nil:
		thumb = m.Video.Thumbnail
	case m.Audio != nil:
		thumb = m.Audio.Thumbnail
	case m.Animation != nil:
		thumb = m.Animation.Thumbnail
	}
	if thumb == nil || thumb.FileID == "" {
		return "", false
	}
	return thumb.FileID, true
}
