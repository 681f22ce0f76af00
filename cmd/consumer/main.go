package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/lozlokesh-lgtm/taxi/internal/config"
	"github.com/lozlokesh-lgtm/taxi/internal/events"
	"github.com/lozlokesh-lgtm/taxi/internal/logging"
)

var (
	eventsConsumed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "consumer_events_total",
		Help: "Trip events consumed, by type",
	}, []string{"type"})
	msgsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_invalid_total",
		Help: "Total invalid messages received",
	})
	redisUpdates = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_redis_updates_total",
		Help: "Total successful trip projection updates",
	})
	redisErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_redis_errors_total",
		Help: "Total redis errors",
	})
)

func init() {
	prometheus.MustRegister(eventsConsumed, msgsInvalid, redisUpdates, redisErrors)
}

func main() {
	var metricsAddr string
	flag.StringVar(&metricsAddr, "metrics-addr", ":2112", "address to serve prometheus metrics on")
	flag.Parse()

	if err := config.LoadEnvFile(); err != nil {
		slog.Error("env file", "error", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))

	brokers := []string{"localhost:9092"}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		brokers = brokers[:0]
		for _, b := range strings.Split(v, ",") {
			if s := strings.TrimSpace(b); s != "" {
				brokers = append(brokers, s)
			}
		}
	}
	topic := getenv("KAFKA_TOPIC", "trip-events")
	group := getenv("KAFKA_GROUP", "tealcab-trip-tailer")

	// The projection is optional; without Redis the consumer only logs and counts.
	var projector TripProjector
	var rc *redis.Client
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		rc = redis.NewClient(&redis.Options{Addr: addr, Password: os.Getenv("REDIS_PASSWORD")})
		projector = &redisProjector{c: rc}
	}

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			if rc != nil {
				if err := rc.Ping(r.Context()).Err(); err != nil {
					http.Error(w, "redis not ready", http.StatusServiceUnavailable)
					return
				}
			}
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
		})
		logger.Info("metrics/health listening", "addr", metricsAddr)
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			logger.Error("metrics server stopped", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := kafka.NewReader(kafka.ReaderConfig{Brokers: brokers, Topic: topic, GroupID: group, MinBytes: 1, MaxBytes: 10e6})
	defer func() {
		_ = r.Close()
		if rc != nil {
			_ = rc.Close()
		}
	}()

	logger.Info("consumer listening", "topic", topic, "brokers", brokers, "group", group)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("shutting down consumer")
				return
			}
			logger.Warn("kafka read error", "error", err, "backoff", backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second
		_ = handle(ctx, logger, projector, m.Value)
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

var errInvalidEvent = errors.New("invalid trip event")

var knownTypes = map[events.Type]bool{
	events.TripRequested:      true,
	events.TripArrived:        true,
	events.TripAccepted:       true,
	events.TripAcceptRejected: true,
	events.TripMessage:        true,
}

func decodeEvent(b []byte) (events.Event, error) {
	var e events.Event
	if err := json.Unmarshal(b, &e); err != nil {
		return events.Event{}, fmt.Errorf("%w: %v", errInvalidEvent, err)
	}
	if !knownTypes[e.Type] {
		return events.Event{}, fmt.Errorf("%w: unknown type %q", errInvalidEvent, e.Type)
	}
	if e.TripID == "" {
		return events.Event{}, fmt.Errorf("%w: missing trip id", errInvalidEvent)
	}
	return e, nil
}

// handle decodes one message, counts it and updates the projection if any.
// Only decode failures are returned; projection errors are counted and logged.
func handle(ctx context.Context, logger *slog.Logger, p TripProjector, raw []byte) error {
	e, err := decodeEvent(raw)
	if err != nil {
		msgsInvalid.Inc()
		logger.Warn("invalid message", "error", err)
		return err
	}
	eventsConsumed.WithLabelValues(string(e.Type)).Inc()
	logger.Info("trip event", "type", e.Type, "trip_id", e.TripID, "status", e.Status, "driver_id", e.DriverID, "role", e.Role)
	if p == nil {
		return nil
	}
	if err := projectWithRetry(ctx, p, e, 3, 200*time.Millisecond); err != nil {
		redisErrors.Inc()
		logger.Warn("projection update failed", "trip_id", e.TripID, "error", err)
		return nil
	}
	redisUpdates.Inc()
	return nil
}

// TripProjector is the subset of redis operations the projection needs.
type TripProjector interface {
	HSet(ctx context.Context, key string, values map[string]interface{}) error
}

type redisProjector struct{ c *redis.Client }

func (r *redisProjector) HSet(ctx context.Context, key string, values map[string]interface{}) error {
	return r.c.HSet(ctx, key, values).Err()
}

// projection is the per-trip hash: last event seen, plus status and driver
// once an event carried them.
func projection(e events.Event) map[string]interface{} {
	v := map[string]interface{}{
		"last_event": string(e.Type),
		"updated_at": e.At.UTC().Format(time.RFC3339),
	}
	if e.Status != "" {
		v["status"] = string(e.Status)
	}
	if e.DriverID != "" && e.Type != events.TripAcceptRejected {
		v["driver_id"] = e.DriverID
	}
	return v
}

func projectWithRetry(ctx context.Context, p TripProjector, e events.Event, attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = p.HSet(ctx, "trip:"+e.TripID, projection(e)); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}
