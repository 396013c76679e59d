package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"offer-pipeline/internal/config"
	"offer-pipeline/internal/notify"
	"offer-pipeline/internal/reminder"
	"offer-pipeline/internal/store"
	"offer-pipeline/internal/telemetry"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	var reminders store.ReminderStore
	if cfg.StoreBackend == "memory" {
		reminders = store.NewMemory()
		log.Printf("using in-memory store backend")
	} else {
		pg, err := store.NewPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			log.Fatalf("connect postgres: %v", err)
		}
		defer pg.Close()
		if err := pg.RunMigrations(ctx); err != nil {
			log.Fatalf("migrations: %v", err)
		}
		reminders = pg
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	delayQueue := reminder.NewDelayQueueWithClient(redisClient)

	sender := reminder.ChannelSender{Channel: notify.LogChannel{}}
	scheduler := reminder.NewScheduler(cfg, reminders, delayQueue, sender)
	worker := reminder.NewWorker(cfg, delayQueue, scheduler)

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			log.Printf("metrics server stopped: %v", err)
		}
	}()

	log.Printf("reminder worker started with poll_interval=%s max_retries=%d", cfg.ReminderPollInterval, cfg.ReminderMaxRetries)
	if err := worker.Run(ctx); err != nil {
		log.Printf("reminder worker stopped: %v", err)
	}
}
