package main

import (
	"context"
	"errors"
	nethttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fjod/go_storefront/internal/cart"
	"github.com/fjod/go_storefront/internal/checkout"
	"github.com/fjod/go_storefront/internal/config"
	"github.com/fjod/go_storefront/internal/guard"
	h "github.com/fjod/go_storefront/internal/http"
	"github.com/fjod/go_storefront/internal/orders"
	"github.com/fjod/go_storefront/internal/publisher"
	"github.com/fjod/go_storefront/internal/store"
	"github.com/fjod/go_storefront/internal/vnpay"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

func main() {
	log.SetFormatter(&log.JSONFormatter{})

	cfg := config.Load()

	cred := &store.Credentials{
		Host:              cfg.DBHost,
		Port:              cfg.DBPort,
		User:              cfg.DBUser,
		Password:          cfg.DBPassword,
		DBName:            cfg.DBName,
		MigrationsDirPath: cfg.MigrationsDirPath,
	}
	durable, err := store.NewPostgresStore(cred)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer durable.Close()

	if err2 := durable.RunMigrations(cred); err2 != nil {
		log.Fatalf("failed to run migrations: %v", err2)
	}

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()
	session := store.NewRedisStore(redisClient, cfg.SessionTTL)

	var pub *publisher.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		pub = publisher.New(cfg.KafkaTopic, cfg.KafkaBrokers...)
		defer pub.Close()
	}

	gateway := vnpay.NewClient(vnpay.Config{
		TmnCode:    cfg.VNPTmnCode,
		HashSecret: cfg.VNPHashSecret,
		PayURL:     cfg.VNPPayURL,
		ReturnURL:  cfg.VNPReturnURL,
	})

	ordersClient := orders.NewHTTPClient(cfg.OrderServiceURL, cfg.OrderServiceTimeout)
	cartSvc := cart.NewService(durable)
	records := checkout.NewRecords(durable)
	orch := checkout.NewOrchestrator(cartSvc, records, ordersClient, gateway, pub, cfg.ShippingFee)
	callbackGuard := guard.New(session, records, cartSvc, ordersClient, pub)

	handler := h.NewHandler(cartSvc, orch, callbackGuard, records, gateway)
	router := h.NewRouter(handler, cfg.JWTSecret, cfg.RequestTimeout)

	srv := &nethttp.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Infof("storefront core listening on :%s", cfg.HTTPPort)
		if err2 := srv.ListenAndServe(); err2 != nil && !errors.Is(err2, nethttp.ErrServerClosed) {
			log.Fatalf("server error: %v", err2)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err2 := srv.Shutdown(ctx); err2 != nil {
		log.Errorf("graceful shutdown failed: %v", err2)
	}
}
