package main

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/staffhub/taskcore/internal/app/activity"
	"github.com/staffhub/taskcore/internal/platform/dbpool"
	"github.com/staffhub/taskcore/internal/platform/env"
	"github.com/staffhub/taskcore/internal/platform/natsutil"
)

func main() {
	ctx := context.Background()

	natsURL := env.String("NATS_URL", env.DefaultNATSURL)
	pgURL := env.String("DATABASE_URL", env.DefaultDatabaseURL)

	pool, err := dbpool.New(ctx, pgURL)
	if err != nil {
		log.Fatal(err)
	}
	defer pool.Close()

	repository := activity.NewPostgresRepository(pool)
	if err := waitForPostgres(ctx, pool, repository, 30*time.Second); err != nil {
		log.Fatal(err)
	}
	sink := activity.NewSink(repository)

	client, err := natsutil.ConnectJetStreamWithRetry(natsURL, 20*time.Second)
	if err != nil {
		log.Fatal(err)
	}
	defer client.Close()

	sub, err := client.JS.QueueSubscribe("app.activity.>", "activity-sink", func(msg *nats.Msg) {
		insertCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := sink.Handle(insertCtx, msg.Data); err != nil {
			if errors.Is(err, activity.ErrInvalidEntryPayload) {
				log.Printf("discarding invalid activity payload: %v", err)
				_ = msg.Term()
				return
			}
			if errors.Is(err, activity.ErrUnsupportedActivityType) {
				log.Printf("discarding unsupported activity type: %v", err)
				_ = msg.Term()
				return
			}
			log.Printf("activity persistence failed: %v", err)
			_ = msg.Nak()
			return
		}

		_ = msg.Ack()
	}, nats.ManualAck())
	if err != nil {
		log.Fatal(err)
	}

	log.Println("Activity Sink listening on subject:", sub.Subject)

	// Keep alive
	select {}
}

func waitForPostgres(
	ctx context.Context,
	pool *pgxpool.Pool,
	repository *activity.PostgresRepository,
	timeout time.Duration,
) error {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		attemptCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		lastErr = pool.Ping(attemptCtx)
		if lastErr == nil {
			lastErr = repository.EnsureSchema(attemptCtx)
		}
		cancel()

		if lastErr == nil {
			return nil
		}
		log.Printf("waiting for postgres readiness: %v", lastErr)
		time.Sleep(500 * time.Millisecond)
	}
	return lastErr
}
