package replies

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

const (
	gatewayName = "replies"
	MaxReplies  = 3
)

var schema = &genai.Schema{
	Type:  genai.TypeArray,
	Items: &genai.Schema{Type: genai.TypeString},
}

// Canned returns the greetings offered before any message has been sent.
func Canned(role models.Role) []string {
	if role == models.RoleDriver {
		return []string{"I'm on my way", "Traffic is heavy", "I've arrived"}
	}
	return []string{"Where are you?", "I'm at the pickup point", "Be there in 5"}
}

// Gateway suggests short quick replies for the latest incoming chat message.
type Gateway struct {
	Completer llm.Completer
	Logger    *slog.Logger
}

func NewGateway(c llm.Completer, logger *slog.Logger) *Gateway {
	g := &Gateway{Completer: c, Logger: logging.Component(logger, "replies")}
	if c == nil {
		g.Logger.Warn("API key is missing, smart replies are disabled")
	}
	return g
}

func prompt(role models.Role, lastMessage string, status models.TripStatus) string {
	r := strings.ToLower(string(role))
	return fmt.Sprintf(`You are an AI assistant for a taxi app.
The user is a %s.
The current trip status is %s.
The last message received was: %q.

Generate 3 short, professional, and relevant quick-reply options (max 5 words each) for the %s to send back.
Return ONLY a JSON array of strings.`, r, status, lastMessage, r)
}

// Suggest never returns nil; failures yield an empty list.
func (g *Gateway) Suggest(ctx context.Context, role models.Role, lastMessage string, status models.TripStatus) []string {
	if g.Completer == nil {
		observability.GatewayRequests.WithLabelValues(gatewayName, observability.OutcomeDisabled).Inc()
		return []string{}
	}
	start := time.Now()
	text, err := g.Completer.CompleteJSON(ctx, prompt(role, lastMessage, status), schema)
	observability.GatewayLatency.WithLabelValues(gatewayName).Observe(time.Since(start).Seconds())
	if err != nil {
		observability.GatewayRequests.WithLabelValues(gatewayName, observability.OutcomeError).Inc()
		g.Logger.Warn("error getting smart replies", "role", role, "error", err)
		return []string{}
	}
	var raw []string
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		observability.GatewayRequests.WithLabelValues(gatewayName, observability.OutcomeMalformed).Inc()
		g.Logger.Warn("malformed smart replies", "role", role, "error", err, "body", text)
		return []string{}
	}
	observability.GatewayRequests.WithLabelValues(gatewayName, observability.OutcomeOK).Inc()
	return clean(raw)
}

func clean(raw []string) []string {
	out := make([]string, 0, MaxReplies)
	for _, s := range raw {
		if s = strings.TrimSpace(s); s == "" {
			continue
		}
		out = append(out, s)
		if len(out) == MaxReplies {
			break
		}
	}
	return out
}
