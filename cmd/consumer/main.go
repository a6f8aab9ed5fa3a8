package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"

	"github.com/example/ride-session/internal/config"
	"github.com/example/ride-session/internal/events"
	"github.com/example/ride-session/internal/logging"
	"github.com/example/ride-session/internal/models"
	"github.com/example/ride-session/internal/storage"
)

var (
	msgsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_consumed_total",
		Help: "Total transition messages consumed",
	})
	msgsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_invalid_total",
		Help: "Total invalid messages received",
	})
	storeWrites = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_store_writes_total",
		Help: "Total transitions persisted",
	})
	storeErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_store_errors_total",
		Help: "Total transitions that could not be persisted",
	})
)

func init() {
	prometheus.MustRegister(msgsConsumed, msgsInvalid, storeWrites, storeErrors)
}

type pinger interface {
	Ping(ctx context.Context) error
}

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadConsumerConfig()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	flag.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "address to serve prometheus metrics on")
	flag.Parse()

	logger := logging.NewLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	var (
		store TransitionSaver
		ready pinger
	)
	if cfg.PGDSN != "" {
		ps, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			logger.Error("postgres unavailable", "error", err)
			os.Exit(1)
		}
		defer ps.Close()
		if err := ps.EnsureSchema(context.Background()); err != nil {
			logger.Error("postgres schema", "error", err)
			os.Exit(1)
		}
		store, ready = ps, ps
	} else {
		logger.Warn("PG_DSN not set; transitions are kept in memory only")
		store = storage.NewMemoryStore()
	}

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) })
		mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			if ready != nil {
				if err := ready.Ping(r.Context()); err != nil {
					http.Error(w, "store not ready", 503)
					return
				}
			}
			w.WriteHeader(200)
			w.Write([]byte("ready"))
		})
		logger.Info("metrics/health listening", "addr", cfg.MetricsAddr)
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := kafka.NewReader(kafka.ReaderConfig{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic, GroupID: cfg.KafkaGroup, MinBytes: 1, MaxBytes: 10e6})
	defer r.Close()

	logger.Info("consumer listening", "topic", cfg.KafkaTopic, "brokers", cfg.KafkaBrokers, "group", cfg.KafkaGroup)
	consume(ctx, r, store, logger)
	logger.Info("shutting down consumer")
}

// MessageReader is the subset of *kafka.Reader the loop needs.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

// TransitionSaver is the subset of storage.TransitionStore the loop needs.
type TransitionSaver interface {
	SaveTransition(ctx context.Context, t models.Transition) error
}

func consume(ctx context.Context, r MessageReader, store TransitionSaver, logger *slog.Logger) {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("kafka read error", "error", err, "backoff", backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second

		msgsConsumed.Inc()

		t, err := events.Decode(m.Value)
		if err != nil {
			msgsInvalid.Inc()
			logger.Warn("invalid message", "offset", m.Offset, "error", err)
			continue
		}

		if err := persistWithRetry(ctx, store, t, 3, 200*time.Millisecond); err != nil {
			storeErrors.Inc()
			logger.Error("persist transition failed", "session_key", t.SessionKey, "to", t.To, "error", err)
			continue
		}
		storeWrites.Inc()
	}
}

// persistWithRetry saves t, retrying with doubling delay.
func persistWithRetry(ctx context.Context, store TransitionSaver, t models.Transition, attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = store.SaveTransition(ctx, t); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
	}
	return err
}
