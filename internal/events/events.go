// Package events publishes the trip lifecycle as a side feed for operators.
// Nothing in the user flow reads it back.
package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/lozlokesh-lgtm/taxi/internal/logging"
	"github.com/lozlokesh-lgtm/taxi/internal/models"
	"github.com/lozlokesh-lgtm/taxi/internal/observability"
)

type Type string

const (
	TripRequested      Type = "trip.requested"
	TripArrived        Type = "trip.arrived"
	TripAccepted       Type = "trip.accepted"
	TripAcceptRejected Type = "trip.accept_rejected"
	TripMessage        Type = "trip.message"
)

type Event struct {
	Type     Type              `json:"type"`
	TripID   string            `json:"trip_id"`
	Status   models.TripStatus `json:"status,omitempty"`
	DriverID string            `json:"driver_id,omitempty"`
	Role     models.Role       `json:"role,omitempty"`
	At       time.Time         `json:"at"`
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// LogPublisher is used when no broker is configured.
type LogPublisher struct{ Logger *slog.Logger }

func (l LogPublisher) Publish(_ context.Context, e Event) error {
	logger := l.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	logger.Debug("trip event", "type", e.Type, "trip_id", e.TripID, "status", e.Status, "driver_id", e.DriverID, "role", e.Role)
	return nil
}

// Emit publishes best-effort: errors are logged and counted, never returned.
func Emit(ctx context.Context, p Publisher, logger *slog.Logger, e Event) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, e); err != nil {
		observability.EventPublishErrors.Inc()
		if logger != nil {
			logger.Warn("publish trip event failed", "type", e.Type, "trip_id", e.TripID, "error", err)
		}
	}
}
