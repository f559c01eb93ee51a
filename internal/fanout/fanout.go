// Package fanout runs best-effort background tasks: copies to dump chats and
// admin log notes. Failures are logged and never reach the requester.
package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/hibiken/asynq"

	"github.com/wapuda/autorename/internal/jobs"
)

// Runner submits a task and returns immediately.
type Runner interface {
	Submit(ctx context.Context, taskType string, payload any)
}

// Sender is the subset of the chat client background tasks need.
type Sender interface {
	SendFile(ctx context.Context, chatID int64, path, caption, thumb string, asVideo bool) error
	SendText(ctx context.Context, chatID int64, text string) error
}

// HandlerFunc executes one task from its JSON payload.
type HandlerFunc func(ctx context.Context, payload []byte) error

// Handlers implements the task types against a Sender.
type Handlers struct {
	Sender Sender
}

func (h Handlers) DumpCopy(ctx context.Context, p jobs.DumpCopyPayload) error {
	if _, err := os.Stat(p.Path); err != nil {
		return fmt.Errorf("artifact for %s: %w", p.ItemID, err)
	}
	thumb := p.ThumbPath
	if thumb != "" {
		if _, err := os.Stat(thumb); err != nil {
			thumb = ""
		}
	}
	if err := h.Sender.SendFile(ctx, p.ChatID, p.Path, p.Caption, thumb, p.AsVideo); err != nil {
		return fmt.Errorf("dump to %d: %w", p.ChatID, err)
	}
	return nil
}

func (h Handlers) AdminNote(ctx context.Context, p jobs.AdminNotePayload) error {
	return h.Sender.SendText(ctx, p.ChatID, p.Text)
}

// Routes maps task types to JSON-decoding handlers.
func (h Handlers) Routes() map[string]HandlerFunc {
	return map[string]HandlerFunc{
		jobs.TaskDumpCopy: func(ctx context.Context, b []byte) error {
			var p jobs.DumpCopyPayload
			if err := json.Unmarshal(b, &p); err != nil {
				return err
			}
			return h.DumpCopy(ctx, p)
		},
		jobs.TaskAdminNote: func(ctx context.Context, b []byte) error {
			var p jobs.AdminNotePayload
			if err := json.Unmarshal(b, &p); err != nil {
				return err
			}
			return h.AdminNote(ctx, p)
		},
	}
}

// Register installs the routes on an asynq mux.
func (h Handlers) Register(mux *asynq.ServeMux) {
	for taskType, fn := range h.Routes() {
		fn := fn
		mux.HandleFunc(taskType, func(ctx context.Context, t *asynq.Task) error {
			return fn(ctx, t.Payload())
		})
	}
}
