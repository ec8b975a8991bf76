package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"magnetar/internal/config"
	"magnetar/internal/handler"
	"magnetar/internal/infrastructure/cache"
	"magnetar/internal/infrastructure/database"
	"magnetar/internal/infrastructure/lock"
	"magnetar/internal/infrastructure/mq"
	"magnetar/internal/job"
	"magnetar/internal/logger"
	"magnetar/internal/service"
	"magnetar/internal/store"
	"magnetar/pkg/idgen"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logrus.WithError(err).Fatal("load config")
	}

	log := logger.New(cfg.Log)

	if err := idgen.Init(cfg.Server.WorkerID); err != nil {
		log.WithError(err).Fatal("init id generator")
	}

	records, locker, closeStore, err := openStore(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("open store")
	}
	defer closeStore()

	var serviceOpts []service.Option
	if cfg.Kafka.Enabled {
		serviceOpts = append(serviceOpts, service.WithEventTopic(cfg.Kafka.Topic.LedgerEvents))
	}

	ledgerService := service.NewLedgerService(records, locker, cfg.Wallet.DefaultCurrency, log.WithField("service", "ledger"), serviceOpts...)
	quotaService := service.NewQuotaService(records, locker, cfg.Quota, log.WithField("service", "quota"), serviceOpts...)
	conversationService := service.NewConversationService(records, quotaService, locker, log.WithField("service", "conversation"), serviceOpts...)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Kafka.Enabled {
		publisher, err := mq.InitKafka(&cfg.Kafka, log)
		if err != nil {
			log.WithError(err).Fatal("init kafka")
		}
		defer publisher.Close()

		outboxSender := job.NewOutboxSender(records, publisher, cfg.Outbox, log)
		go outboxSender.Start(ctx)
		defer outboxSender.Stop()
	}

	gin.SetMode(gin.ReleaseMode)
	h := handler.NewHandler(ledgerService, quotaService, conversationService, log.WithField("component", "http"))
	router := handler.SetupRouter(h, log.WithField("component", "http"))

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.WithFields(logrus.Fields{
			"port":  cfg.Server.Port,
			"store": cfg.Store.Driver,
		}).Info("server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("server shutdown")
	}

	log.Info("server stopped")
}

// openStore builds the record store for cfg.Store.Driver and the locker for
// cfg.LockDriver(). The local locker only serializes writers inside this
// process; run more than one instance against a shared store with the redis
// locker.
func openStore(cfg *config.Config, log logrus.FieldLogger) (store.RecordStore, lock.Locker, func(), error) {
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	var client *redis.Client
	if cfg.Store.Driver == config.DriverRedis || cfg.LockDriver() == config.LockRedis {
		c, err := cache.InitRedis(&cfg.Redis, log)
		if err != nil {
			return nil, nil, nil, err
		}
		client = c
		closers = append(closers, func() { _ = c.Close() })
	}

	var s store.RecordStore
	switch cfg.Store.Driver {
	case config.DriverRedis:
		s = store.NewRedisStore(client, cfg.Redis.KeyPrefix)

	case config.DriverMySQL:
		db, err := database.InitMySQL(&cfg.MySQL, log)
		if err != nil {
			closeAll()
			return nil, nil, nil, err
		}
		closers = append(closers, func() {
			if err := database.Close(db); err != nil {
				log.WithError(err).Error("close mysql")
			}
		})
		s = store.NewGormStore(db)

	default:
		s = store.NewMemoryStore()
	}
	closers = append(closers, func() { _ = s.Close() })

	var locker lock.Locker = lock.NewKeyedMutex()
	if cfg.LockDriver() == config.LockRedis {
		locker = lock.NewRedisLocker(client, cfg.Redis.KeyPrefix, cfg.Lock.TTL(), cfg.Lock.RetryInterval(), cfg.Lock.MaxRetries)
	}
	log.WithFields(logrus.Fields{
		"store": cfg.Store.Driver,
		"lock":  cfg.LockDriver(),
	}).Info("record store ready")

	return s, locker, closeAll, nil
}
