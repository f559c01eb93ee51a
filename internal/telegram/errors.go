package telegram

import (
	"errors"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// RateLimitError is a 429 from the Bot API or the file endpoint.
type RateLimitError struct {
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s: %v", e.RetryAfter, e.Err)
}

func (e *RateLimitError) Unwrap() error { return e.Err }

// RetryAfterDuration lets callers detect the error without importing this
// package.
func (e *RateLimitError) RetryAfterDuration() time.Duration { return e.RetryAfter }

// classify turns a Bot API flood-wait response into a RateLimitError and
// passes every other error through.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) && (apiErr.RetryAfter > 0 || apiErr.Code == 429) {
		wait := time.Duration(apiErr.RetryAfter) * time.Second
		if wait <= 0 {
			wait = time.Second
		}
		return &RateLimitError{RetryAfter: wait, Err: err}
	}
	return err
}

func notModified(err error) bool {
	return err != nil && strings.Contains(err.Error(), "message is not modified")
}
