package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	logx "github.com/wapuda/autorename/internal/logs"
)

// Inline runs tasks on detached goroutines in this process.
type Inline struct {
	routes  map[string]HandlerFunc
	timeout time.Duration
	wg      sync.WaitGroup
}

func NewInline(h Handlers) *Inline {
	return &Inline{routes: h.Routes(), timeout: 30 * time.Minute}
}

func (r *Inline) Submit(ctx context.Context, taskType string, payload any) {
	lg := logx.FromCtx(ctx).With().Str("task", taskType).Logger()
	fn, ok := r.routes[taskType]
	if !ok {
		lg.Error().Msg("unknown background task")
		return
	}
	b, err := json.Marshal(payload)
	if err != nil {
		lg.Error().Err(err).Msg("encode background task")
		return
	}

	// The requester's pipeline may finish first; the task must outlive it.
	bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer cancel()
		defer func() {
			if p := recover(); p != nil {
				lg.Error().Str("panic", fmt.Sprint(p)).Bytes("stack", debug.Stack()).Msg("background task panicked")
			}
		}()
		if err := fn(bg, b); err != nil {
			lg.Warn().Err(err).Msg("background task failed")
			return
		}
		lg.Debug().Msg("background task done")
	}()
}

// Wait blocks until submitted tasks have finished.
func (r *Inline) Wait() { r.wg.Wait() }
