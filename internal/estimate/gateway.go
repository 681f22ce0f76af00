package estimate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/lozlokesh-lgtm/taxi/internal/llm"
	"github.com/lozlokesh-lgtm/taxi/internal/logging"
	"github.com/lozlokesh-lgtm/taxi/internal/models"
	"github.com/lozlokesh-lgtm/taxi/internal/observability"
)

const gatewayName = "estimate"

var schema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"priceRange": {Type: genai.TypeString, Description: "Estimated price range e.g., $15-$20"},
		"duration":   {Type: genai.TypeString, Description: "Estimated duration e.g., 15 mins"},
		"distance":   {Type: genai.TypeString, Description: "Estimated distance e.g., 5.2 km"},
	},
	Required: []string{"priceRange", "duration", "distance"},
}

// Gateway turns a pickup/dropoff pair into an advisory fare estimate.
// Every failure degrades to a nil estimate; nothing is retried.
type Gateway struct {
	Completer llm.Completer // nil disables the gateway
	Cache     Cache         // optional
	Logger    *slog.Logger
}

func NewGateway(c llm.Completer, cache Cache, logger *slog.Logger) *Gateway {
	g := &Gateway{Cache: cache, Logger: logging.Component(logger, "estimate")}
	if c != nil {
		g.Completer = c
	} else {
		g.Logger.Warn("API key is missing, fare estimates are disabled")
	}
	return g
}

func prompt(pickup, dropoff string) string {
	return fmt.Sprintf(`Estimate the taxi ride details from %q to %q.
Assume a standard city traffic scenario.
Provide a realistic price range in USD, distance in km, and duration in minutes.`, pickup, dropoff)
}

func (g *Gateway) Estimate(ctx context.Context, pickup, dropoff string) *models.TripEstimate {
	pickup, dropoff = strings.TrimSpace(pickup), strings.TrimSpace(dropoff)
	if pickup == "" || dropoff == "" {
		return nil
	}
	if g.Cache != nil {
		if e, err := g.Cache.Get(ctx, pickup, dropoff); err != nil {
			g.Logger.Warn("estimate cache read failed", "error", err)
		} else if e != nil {
			observability.GatewayRequests.WithLabelValues(gatewayName, observability.OutcomeCacheHit).Inc()
			return e
		}
	}
	if g.Completer == nil {
		observability.GatewayRequests.WithLabelValues(gatewayName, observability.OutcomeDisabled).Inc()
		return nil
	}

	start := time.Now()
	text, err := g.Completer.CompleteJSON(ctx, prompt(pickup, dropoff), schema)
	observability.GatewayLatency.WithLabelValues(gatewayName).Observe(time.Since(start).Seconds())
	if err != nil {
		observability.GatewayRequests.WithLabelValues(gatewayName, observability.OutcomeError).Inc()
		g.Logger.Warn("error getting trip estimation", "pickup", pickup, "dropoff", dropoff, "error", err)
		return nil
	}
	var e models.TripEstimate
	if err := json.Unmarshal([]byte(text), &e); err != nil || !e.Complete() {
		observability.GatewayRequests.WithLabelValues(gatewayName, observability.OutcomeMalformed).Inc()
		g.Logger.Warn("malformed trip estimation", "pickup", pickup, "dropoff", dropoff, "error", err, "body", text)
		return nil
	}
	observability.GatewayRequests.WithLabelValues(gatewayName, observability.OutcomeOK).Inc()
	if g.Cache != nil {
		if err := g.Cache.Set(ctx, pickup, dropoff, e); err != nil {
			g.Logger.Warn("estimate cache write failed", "error", err)
		}
	}
	return &e
}
