package main

import (
	"context"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog/log"

	"github.com/wapuda/autorename/internal/config"
	"github.com/wapuda/autorename/internal/fanout"
	logx "github.com/wapuda/autorename/internal/logs"
	"github.com/wapuda/autorename/internal/telegram"
)

// The worker executes dump copies and admin notes enqueued by the bot when
// FANOUT_MODE=asynq. It must share DATA_DIR with the bot.
func main() {
	c := config.Load()
	logx.Setup(logx.FromEnv("worker"))

	if c.BotToken == "" {
		log.Fatal().Msg("BOT_TOKEN required")
	}
	tg, err := telegram.New(c.BotToken, c.APIEndpoint)
	if err != nil {
		log.Fatal().Err(err).Msg("telegram auth failed")
	}

	redisOpt := asynq.RedisClientOpt{Addr: c.RedisAddr, Password: c.RedisPassword, DB: c.RedisDB}
	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: c.WorkerConcurrency,
		Queues:      map[string]int{fanout.QueueName: 1},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, t *asynq.Task, err error) {
			id, _ := asynq.GetTaskID(ctx)
			retried, _ := asynq.GetRetryCount(ctx)
			log.Warn().Err(err).Str("task", t.Type()).Str("task_id", id).Int("retried", retried).Msg("task failed")
		}),
	})

	mux := asynq.NewServeMux()
	fanout.Handlers{Sender: tg}.Register(mux)

	log.Info().Str("redis", c.RedisAddr).Int("concurrency", c.WorkerConcurrency).Msg("worker starting")
	if err := srv.Run(mux); err != nil {
		log.Fatal().Err(err).Msg("worker stopped")
	}
}
