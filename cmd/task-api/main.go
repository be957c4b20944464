package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/staffhub/taskcore/internal/app/activity"
	"github.com/staffhub/taskcore/internal/app/directory"
	"github.com/staffhub/taskcore/internal/app/tasks"
	"github.com/staffhub/taskcore/internal/platform/dbpool"
	"github.com/staffhub/taskcore/internal/platform/env"
	"github.com/staffhub/taskcore/internal/platform/metrics"
	"github.com/staffhub/taskcore/internal/platform/natsutil"
)

func main() {
	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	apiAddr := env.String("TASK_API_ADDR", env.DefaultAPIAddr)
	pgURL := env.String("DATABASE_URL", env.DefaultDatabaseURL)
	jwtSecret := env.String("JWT_SECRET", "dev-insecure-change-me")
	shutdownTimeout := env.Duration("SHUTDOWN_TIMEOUT", 10*time.Second)

	pool, err := dbpool.New(runCtx, pgURL)
	if err != nil {
		log.Fatal(err)
	}
	defer pool.Close()

	directoryRepo := directory.NewPostgresRepository(pool)
	taskRepo := tasks.NewPostgresRepository(pool)
	activityRepo := activity.NewPostgresRepository(pool)
	if err := waitForSchemas(runCtx, pool, 30*time.Second,
		directoryRepo.EnsureSchema, taskRepo.EnsureSchema, activityRepo.EnsureSchema,
	); err != nil {
		log.Fatal(err)
	}

	directorySvc := directory.NewService(directoryRepo, directory.NewTokenManager(jwtSecret))
	// A fresh deployment has no departments and registration requires one.
	if err := directorySvc.EnsureDepartment(runCtx,
		env.String("DEFAULT_DEPARTMENT_ID", "general"),
		env.String("DEFAULT_DEPARTMENT_NAME", "General"),
	); err != nil {
		log.Fatal(err)
	}

	client, err := natsutil.ConnectJetStreamWithRetry(env.String("NATS_URL", env.DefaultNATSURL), 20*time.Second)
	if err != nil {
		log.Fatal(err)
	}
	defer client.Close()

	publisher := natsutil.JetStreamPublisher{JS: client.JS}
	recorder := activity.NewRecorder(directorySvc, taskRepo, publisher.Publish)
	taskSvc := tasks.NewService(taskRepo, directorySvc, recorder)
	handler := tasks.NewHandler(taskSvc, directorySvc, activityRepo)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := checkReadiness(r.Context(), pool, client.Conn); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", metrics.DefaultHandler())
	mux.Handle("/", handler.Router())

	server := &http.Server{
		Addr:              apiAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	fmt.Printf("Task API listening on %s\n", apiAddr)
	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		log.Fatal(err)
	case <-runCtx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("task-api graceful shutdown failed: %v", err)
	}
}

func waitForSchemas(ctx context.Context, pool *pgxpool.Pool, timeout time.Duration, ensure ...func(context.Context) error) error {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		attemptCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		lastErr = pool.Ping(attemptCtx)
		for _, fn := range ensure {
			if lastErr != nil {
				break
			}
			lastErr = fn(attemptCtx)
		}
		cancel()
		if lastErr == nil {
			return nil
		}
		log.Printf("waiting for schema readiness: %v", lastErr)
		time.Sleep(500 * time.Millisecond)
	}
	return lastErr
}

func checkReadiness(ctx context.Context, pool *pgxpool.Pool, conn *nats.Conn) error {
	if conn == nil {
		return errors.New("nats connection is nil")
	}
	if conn.Status() != nats.CONNECTED {
		return fmt.Errorf("nats is not connected: %s", conn.Status().String())
	}

	checkCtx, cancel := context.WithTimeout(ctx, 1500*time.Millisecond)
	defer cancel()
	if err := pool.Ping(checkCtx); err != nil {
		return fmt.Errorf("postgres ping failed: %w", err)
	}
	return nil
}
