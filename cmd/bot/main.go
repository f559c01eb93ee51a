package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/wapuda/autorename/internal/bot"
	"github.com/wapuda/autorename/internal/config"
	"github.com/wapuda/autorename/internal/fanout"
	logx "github.com/wapuda/autorename/internal/logs"
	"github.com/wapuda/autorename/internal/naming"
	"github.com/wapuda/autorename/internal/pipeline"
	"github.com/wapuda/autorename/internal/queue"
	"github.com/wapuda/autorename/internal/settings"
	"github.com/wapuda/autorename/internal/stats"
	"github.com/wapuda/autorename/internal/tagger"
	"github.com/wapuda/autorename/internal/telegram"
)

func main() {
	c := config.Load()
	logx.Setup(logx.FromEnv("bot"))
	log.Info().Msg("bot starting")

	if err := c.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	if err := c.EnsureDirectories(); err != nil {
		log.Fatal().Err(err).Msg("data directories")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tg, err := telegram.New(c.BotToken, c.APIEndpoint)
	if err != nil {
		log.Fatal().Err(err).Msg("telegram auth failed")
	}
	log.Info().Str("username", tg.Self().UserName).Msg("bot authorized")

	var rdb *redis.Client
	if c.UsesRedis() {
		rdb = redis.NewClient(&redis.Options{Addr: c.RedisAddr, Password: c.RedisPassword, DB: c.RedisDB})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Str("addr", c.RedisAddr).Msg("redis unreachable")
		}
		defer rdb.Close()
	}

	statsStore, err := openStats(ctx, c, rdb)
	if err != nil {
		log.Fatal().Err(err).Str("backend", c.StatsBackend).Msg("open stats store")
	}
	defer statsStore.Close()

	var (
		settingsStore settings.Store
		bans          settings.BanList
	)
	if c.SettingsBackend == "redis" {
		rs := settings.NewRedisStore(rdb)
		settingsStore, bans = rs, rs
	} else {
		ms := settings.NewMemoryStore()
		settingsStore, bans = ms, ms
	}

	var (
		runner fanout.Runner
		inline *fanout.Inline
	)
	switch c.FanoutMode {
	case "asynq":
		client := asynq.NewClient(asynq.RedisClientOpt{Addr: c.RedisAddr, Password: c.RedisPassword, DB: c.RedisDB})
		defer client.Close()
		runner = fanout.NewAsynq(client)
	default:
		inline = fanout.NewInline(fanout.Handlers{Sender: tg})
		runner = inline
	}

	pipe := pipeline.New(pipeline.Config{
		TempDir:       c.TempDir(),
		OutDir:        c.OutDir(),
		Concurrency:   c.Concurrency,
		MaxRetries:    c.MaxRateRetries,
		Throttle:      c.StatusThrottle,
		AdminDumpChat: c.AdminDumpChat,
		AdminLogChat:  c.AdminLogChat,
		ExtraCooldown: time.Second,
	}, pipeline.Deps{
		Platform: tg,
		Settings: settingsStore,
		Stats:    statsStore,
		Tagger:   tagger.New(c.FFmpegBin),
		Namer:    naming.NewNamer(),
		Fanout:   runner,
	})

	disp := queue.NewDispatcher(ctx, queue.New(), pipe.Handle, queue.Options{
		Yield:       c.DispatchYield,
		Grace:       c.DispatchGrace,
		Concurrency: c.Concurrency,
	})

	h := bot.New(c, bot.Deps{
		Messenger: tg,
		Core:      disp,
		AdminDump: pipe,
		Settings:  settingsStore,
		Bans:      bans,
		Stats:     statsStore,
	})

	health := serveHealth(c.HealthAddr, disp, pipe)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := tg.API().GetUpdatesChan(u)
	log.Info().Int("concurrency", c.Concurrency).Str("fanout", c.FanoutMode).Msg("listening for updates")

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case upd, ok := <-updates:
			if !ok {
				break loop
			}
			h.HandleUpdate(ctx, upd)
		}
	}

	log.Info().Int("queued", disp.Depth()).Msg("shutting down")
	tg.API().StopReceivingUpdates()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = health.Shutdown(shutdownCtx)
	h.Wait()
	disp.Wait()
	if inline != nil {
		inline.Wait()
	}
	log.Info().Msg("bot stopped")
}

func openStats(ctx context.Context, c config.Config, rdb *redis.Client) (stats.Store, error) {
	if c.StatsBackend == "redis" {
		return stats.NewRedisStore(rdb), nil
	}
	return stats.OpenSQLite(ctx, c.StatsDB())
}

type healthStatus struct {
	OK          bool `json:"ok"`
	Queue       int  `json:"queue"`
	Active      int  `json:"active"`
	Concurrency int  `json:"concurrency"`
}

func serveHealth(addr string, disp *queue.Dispatcher, pipe *pipeline.Pipeline) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(healthStatus{
			OK:          true,
			Queue:       disp.Depth(),
			Active:      pipe.Active(),
			Concurrency: disp.Concurrency(),
		})
	})
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Info().Str("addr", addr).Msg("health endpoint on /health")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("health server stopped")
		}
	}()
	return srv
}
