package jobs

import "time"

const (
	TaskDumpCopy  = "dump:copy"
	TaskAdminNote = "admin:note"
)

// MediaKind is the Telegram attachment type a WorkItem arrived as.
type MediaKind string

const (
	KindDocument  MediaKind = "document"
	KindVideo     MediaKind = "video"
	KindAudio     MediaKind = "audio"
	KindVoice     MediaKind = "voice"
	KindAnimation MediaKind = "animation"
)

// WorkItem is one inbound media message waiting to be renamed.
// It is never mutated after Enqueue.
type WorkItem struct {
	ID        string    `json:"id"`         // ULID trace id, stable across retries
	MessageID int       `json:"message_id"` // Telegram message id
	ChatID    int64     `json:"chat_id"`
	UserID    int64     `json:"user_id"`
	Username  string    `json:"username"`
	FirstName string    `json:"first_name"`
	FileID    string    `json:"file_id"`   // Telegram file_id
	FileName  string    `json:"file_name"` // optional
	Caption   string    `json:"caption"`   // optional
	MimeType  string    `json:"mime_type"` // optional
	Size      int64     `json:"size"`      // declared bytes, 0 if unknown
	Duration  int       `json:"duration"`  // seconds, audio/video only
	Kind      MediaKind `json:"kind"`
	Received  time.Time `json:"received"`
}

// DumpCopyPayload asks a worker to post a finished artifact to a secondary chat.
type DumpCopyPayload struct {
	ItemID    string `json:"item_id"`
	ChatID    int64  `json:"chat_id"` // destination
	Path      string `json:"path"`    // local artifact path (shared DATA_DIR)
	Caption   string `json:"caption"`
	ThumbPath string `json:"thumb"` // optional
	AsVideo   bool   `json:"as_video"`
}

// AdminNotePayload carries a plain text line for the admin log chat.
type AdminNotePayload struct {
	ChatID int64  `json:"chat_id"`
	Text   string `json:"text"`
}
