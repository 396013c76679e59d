package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/redis/go-redis/v9"

	"offer-pipeline/internal/api"
	"offer-pipeline/internal/audit"
	"offer-pipeline/internal/config"
	"offer-pipeline/internal/event"
	"offer-pipeline/internal/notify"
	"offer-pipeline/internal/ratelimit"
	"offer-pipeline/internal/reminder"
	"offer-pipeline/internal/saga"
	"offer-pipeline/internal/store"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt)
		<-ch
		cancel()
	}()

	var (
		apps      store.ApplicationStore
		auditRows store.AuditStore
		reminders store.ReminderStore
	)
	if cfg.StoreBackend == "memory" {
		mem := store.NewMemory()
		apps, auditRows, reminders = mem, mem, mem
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
		apps, auditRows, reminders = pg, pg, pg
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	limiter := ratelimit.NewTokenBucket(redisClient, cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)
	delayQueue := reminder.NewDelayQueueWithClient(redisClient)

	exporter, err := audit.NewExporter(ctx, cfg)
	if err != nil {
		log.Fatalf("init audit exporter: %v", err)
	}
	auditSvc := audit.New(auditRows, apps, cfg.CriticalEventTypes, audit.LogAlertSink{}, exporter)

	channel := notify.LogChannel{}
	dispatcher := notify.NewDispatcher(channel, cfg.NotifyRetryAttempts, cfg.NotifyRetryDelay, cfg.NotifyBulkDelay)
	scheduler := reminder.NewScheduler(cfg, reminders, delayQueue, reminder.ChannelSender{Channel: channel})

	bus := event.NewBus()
	bus.Subscribe(event.TypeOfferAccepted, "audit", auditSvc.HandleOfferAccepted)
	bus.Subscribe(event.TypeOfferAccepted, "reminders", scheduler.HandleOfferAccepted)
	bus.Subscribe(event.TypeOfferAccepted, "notifications", dispatcher.HandleOfferAccepted)
	bus.Subscribe(event.TypeStateChanged, "audit", auditSvc.HandleStateChanged)
	bus.Subscribe(event.TypeAcceptanceRolledBack, "audit", auditSvc.HandleAcceptanceRolledBack)

	executor := saga.NewExecutor(cfg.StepTimeout, cfg.SagaMaxAttempts, cfg.SagaBackoffBase)
	acceptance := saga.NewOfferAcceptance(apps, executor, bus)

	server := api.New(cfg, acceptance, auditSvc, scheduler, limiter)
	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: server.Router(),
	}

	log.Printf("api listening on :%s", cfg.HTTPPort)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
}
