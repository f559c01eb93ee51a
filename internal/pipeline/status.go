package pipeline

import (
	"context"
	"errors"
	"sync"

	"github.com/wapuda/autorename/internal/jobs"
	logx "github.com/wapuda/autorename/internal/logs"
	"github.com/wapuda/autorename/internal/progress"
)

// status is the single message an item edits in place. A zero id means the
// initial send failed and progress edits are skipped.
type status struct {
	platform Platform
	chatID   int64
	replyTo  int
	id       int

	mu   sync.Mutex
	last string
}

func (p *Pipeline) newStatus(ctx context.Context, it jobs.WorkItem, text string) *status {
	st := &status{platform: p.deps.Platform, chatID: it.ChatID, replyTo: it.MessageID, last: text}
	id, err := p.deps.Platform.SendStatus(ctx, it.ChatID, it.MessageID, text)
	if err != nil {
		lg := logx.FromCtx(ctx)
		lg.Warn().Err(err).Msg("send status message")
		return st
	}
	st.id = id
	return st
}

func (s *status) set(ctx context.Context, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.id == 0 || text == s.last {
		return
	}
	if err := s.platform.EditStatus(ctx, s.chatID, s.id, text); err != nil {
		lg := logx.FromCtx(ctx)
		lg.Debug().Err(err).Msg("edit status message")
		return
	}
	s.last = text
}

// report delivers the terminal text. Rate-limited edits are retried within
// MaxRetries; an edit that still fails is replaced by a new reply.
func (p *Pipeline) report(ctx context.Context, st *status, text string) {
	lg := logx.FromCtx(ctx)
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.id != 0 {
		for attempt := 0; ; attempt++ {
			err := st.platform.EditStatus(ctx, st.chatID, st.id, text)
			if err == nil {
				st.last = text
				return
			}
			var rl RateLimited
			if !errors.As(err, &rl) || attempt >= p.cfg.MaxRetries {
				lg.Warn().Err(err).Msg("final status edit failed, sending it as a new message")
				break
			}
			if serr := p.cfg.Sleep(ctx, rl.RetryAfterDuration()); serr != nil {
				break
			}
		}
	}
	id, err := st.platform.SendStatus(ctx, st.chatID, st.replyTo, text)
	if err != nil {
		lg.Error().Err(err).Msg("final status not delivered")
		return
	}
	st.id, st.last = id, text
}

// reporter adapts a transfer progress callback to throttled status edits.
func (p *Pipeline) reporter(ctx context.Context, st *status, phase string) ProgressFunc {
	r := progress.NewReporter(phase, p.cfg.Throttle, func(text string) { st.set(ctx, text) })
	return r.Update
}
