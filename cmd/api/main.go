package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/go-order-placement.git/internal/config"
	"github.com/ariefcatur/go-order-placement.git/internal/httpx"
	kafkax "github.com/ariefcatur/go-order-placement.git/internal/kafka"
	"github.com/ariefcatur/go-order-placement.git/internal/orders"
	"github.com/ariefcatur/go-order-placement.git/internal/postgres"
	"github.com/ariefcatur/go-order-placement.git/internal/redisx"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer db.Close()
	if err := postgres.Migrate(ctx, db); err != nil {
		log.Fatalf("db migrate: %v", err)
	}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka producers, one per topic
	pPlaced := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderPlaced, 1024)
	pPlaced.Start(ctx)
	pCancelled := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderCancelled, 1024)
	pCancelled.Start(ctx)
	pStatuses := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderStatusChanged, 1024)
	pStatuses.Start(ctx)

	// Coordinator & handler
	svc := &orders.Service{
		Store:      &orders.Repo{DB: db, LockTimeout: cfg.LockTimeout},
		MaxRetries: cfg.PlaceMaxRetries,
	}
	router := httpx.NewRouter()
	oh := &httpx.OrdersHandler{
		Svc:       svc,
		Redis:     rdb,
		Placed:    pPlaced,
		Cancelled: pCancelled,
		Statuses:  pStatuses,
		Service:   cfg.ServiceName,
	}
	oh.Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	// graceful shutdown
	go func() {
		log.Printf("HTTP listening at %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("shutting down...")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)

	for _, p := range []*kafkax.Producer{pPlaced, pCancelled, pStatuses} {
		p.Close()
	}
	for _, p := range []*kafkax.Producer{pPlaced, pCancelled, pStatuses} {
		p.WaitClosed()
	}
}
