package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"fedi-tube-bot/internal/adapters/cache"
	"fedi-tube-bot/internal/adapters/invidious"
	"fedi-tube-bot/internal/adapters/mastodon"
	"fedi-tube-bot/internal/adapters/repo"
	"fedi-tube-bot/internal/domain"
	"fedi-tube-bot/internal/infra/config"
	"fedi-tube-bot/internal/infra/db"
	httpinfra "fedi-tube-bot/internal/infra/http"
	"fedi-tube-bot/internal/infra/log"
	"fedi-tube-bot/internal/infra/metrics"
	"fedi-tube-bot/internal/usecase/commands"
	"fedi-tube-bot/internal/usecase/dispatch"
	"fedi-tube-bot/internal/usecase/poller"
	"fedi-tube-bot/internal/usecase/subscriptions"
)

func main() {
	cfg := config.Load()
	logger := log.NewLogger(cfg.AppEnv)

	if err := db.RunMigrations(cfg.PGDSN); err != nil {
		logger.Fatal().Err(err).Msg("не удалось применить миграции")
	}
	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("не удалось подключиться к БД")
	}
	defer pool.Close()

	metrics.MustRegister(prometheus.DefaultRegisterer)

	feed, err := invidious.New(cfg.Invidious.Host, cfg.Invidious.Token)
	if err != nil {
		logger.Fatal().Err(err).Msg("не удалось создать клиент invidious")
	}
	directory := invidious.NewDirectory("")
	messenger, err := mastodon.New(cfg.Mastodon.Host, cfg.Mastodon.Token)
	if err != nil {
		logger.Fatal().Err(err).Msg("не удалось создать клиент mastodon")
	}

	var guard domain.Cache
	if cfg.RedisAddr != "" {
		guard = cache.NewRedis(redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}))
	}

	repoAdapter := repo.NewPostgres(pool)
	pollerSvc := poller.NewService(feed, repoAdapter, cfg.Invidious.FeedMaxResults, logger)
	dispatcher := dispatch.NewService(repoAdapter, repoAdapter, repoAdapter, feed, directory, messenger, guard, cfg.Poll.SendDelay, cfg.Invidious.FeedMaxResults, logger)
	subsSvc := subscriptions.NewService(repoAdapter, repoAdapter, repoAdapter, feed, logger)
	commandsSvc := commands.NewService(messenger, subsSvc, dispatcher, cfg.AdminHandle, logger)

	feedCycle := func(ctx context.Context) error {
		start := time.Now()
		result, err := pollerSvc.Poll(ctx)
		if err != nil {
			metrics.FeedPollErrors.Inc()
			return err
		}
		if len(result.Items) == 0 {
			return nil
		}
		metrics.FeedItemsNew.Add(float64(len(result.NewItems)))
		dispatcher.Dispatch(ctx, result.NewItems, result.State)
		if err := pollerSvc.Commit(ctx, result.State); err != nil {
			metrics.FeedPollErrors.Inc()
			return err
		}
		metrics.FeedPollSeconds.Observe(time.Since(start).Seconds())
		return nil
	}
	conversationCycle := commandsSvc.ProcessConversations

	if cfg.OneShot {
		ctx := context.Background()
		if err := feedCycle(ctx); err != nil {
			logger.Error().Err(err).Msg("цикл опроса ленты завершился с ошибкой")
		}
		if err := conversationCycle(ctx); err != nil {
			logger.Error().Err(err).Msg("цикл обработки диалогов завершился с ошибкой")
		}
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	server := httpinfra.NewServer(logger)
	go func() {
		if err := server.Start(fmt.Sprintf(":%d", cfg.Port)); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("HTTP сервер остановлен")
		}
	}()

	go runEvery(ctx, logger, "feed", cfg.Poll.FeedInterval, feedCycle)
	go runEvery(ctx, logger, "conversations", cfg.Poll.ConversationInterval, conversationCycle)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)
	<-stop
	logger.Info().Msg("остановка бота")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = server.Shutdown(shutdownCtx)
}

// runEvery запускает fn сразу и затем по тикеру. Цикл выполняется в одной
// горутине, поэтому затянувшийся прогон не может наложиться на следующий:
// лишние тики пропускаются.
func runEvery(ctx context.Context, logger zerolog.Logger, name string, interval time.Duration, fn func(context.Context) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	run := func() {
		runLog := logger.With().Str("timer", name).Str("run", uuid.NewString()[:8]).Logger()
		runLog.Debug().Msg("цикл запущен")
		if err := fn(ctx); err != nil {
			runLog.Error().Err(err).Msg("цикл завершился с ошибкой")
		}
	}

	run()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			run()
		}
	}
}
