package fanout

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	"github.com/wapuda/autorename/internal/jobs"
	logx "github.com/wapuda/autorename/internal/logs"
)

// QueueName is the asynq queue background tasks are placed on.
const QueueName = "fanout"

// Enqueuer is the asynq client method the runner uses.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Asynq hands tasks to an asynq worker process (cmd/worker).
type Asynq struct {
	client   Enqueuer
	maxRetry int
}

func NewAsynq(client Enqueuer) *Asynq {
	return &Asynq{client: client, maxRetry: 2}
}

func (r *Asynq) Submit(ctx context.Context, taskType string, payload any) {
	lg := logx.FromCtx(ctx).With().Str("task", taskType).Logger()
	b, err := json.Marshal(payload)
	if err != nil {
		lg.Error().Err(err).Msg("encode background task")
		return
	}
	info, err := r.client.EnqueueContext(context.WithoutCancel(ctx), asynq.NewTask(taskType, b),
		asynq.Queue(QueueName),
		asynq.TaskID(jobs.NewID()),
		asynq.MaxRetry(r.maxRetry),
		asynq.Timeout(30*time.Minute),
	)
	if err != nil {
		lg.Error().Err(err).Msg("asynq enqueue failed")
		return
	}
	lg.Debug().Str("task_id", info.ID).Msg("background task enqueued")
}
