package estimate

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"google.golang.org/genai"
)

type fakeCompleter struct {
	body   string
	err    error
	calls  int
	prompt string
}

func (f *fakeCompleter) CompleteJSON(ctx context.Context, prompt string, schema *genai.Schema) (string, error) {
	f.calls++
	f.prompt = prompt
	return f.body, f.err
}

func TestEstimateParsesStructuredOutput(t *testing.T) {
	fc := &fakeCompleter{body: `{"priceRange":"$12 - $15","duration":"12 min","distance":"4.2 km"}`}
	g := NewGateway(fc, nil, nil)
	e := g.Estimate(context.Background(), "Central Station", "Grand Hotel")
	if e == nil {
		t.Fatalf("expected estimate")
	}
	if e.PriceRange != "$12 - $15" || e.Duration != "12 min" || e.Distance != "4.2 km" {
		t.Fatalf("unexpected estimate %+v", e)
	}
	if !strings.Contains(fc.prompt, `"Central Station"`) || !strings.Contains(fc.prompt, `"Grand Hotel"`) {
		t.Fatalf("prompt missing locations: %s", fc.prompt)
	}
}

func TestEstimateFailuresDegradeToNil(t *testing.T) {
	cases := map[string]*fakeCompleter{
		"call error": {err: errors.New("boom")},
		"not json":   {body: "sure! about $20"},
		"incomplete": {body: `{"priceRange":"$10"}`},
	}
	for name, fc := range cases {
		g := NewGateway(fc, nil, nil)
		if e := g.Estimate(context.Background(), "a", "b"); e != nil {
			t.Fatalf("%s: expected nil, got %+v", name, e)
		}
		if fc.calls != 1 {
			t.Fatalf("%s: expected exactly one call (no retries), got %d", name, fc.calls)
		}
	}
}

func TestEstimateWithoutCompleter(t *testing.T) {
	g := NewGateway(nil, nil, nil)
	if e := g.Estimate(context.Background(), "a", "b"); e != nil {
		t.Fatalf("expected nil without credentials")
	}
}

func TestEstimateBlankLocationsSkipCall(t *testing.T) {
	fc := &fakeCompleter{body: `{}`}
	g := NewGateway(fc, nil, nil)
	if e := g.Estimate(context.Background(), " ", "b"); e != nil || fc.calls != 0 {
		t.Fatalf("expected no call for blank pickup")
	}
}

func TestEstimateUsesCache(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cache := NewMemoryCache(time.Minute, clock)
	fc := &fakeCompleter{body: `{"priceRange":"$5","duration":"3 min","distance":"1 km"}`}
	g := NewGateway(fc, cache, nil)

	_ = g.Estimate(context.Background(), "Central Station", "Grand Hotel")
	e := g.Estimate(context.Background(), " central  station", "GRAND HOTEL")
	if e == nil || e.PriceRange != "$5" {
		t.Fatalf("expected cached estimate, got %+v", e)
	}
	if fc.calls != 1 {
		t.Fatalf("expected one upstream call, got %d", fc.calls)
	}

	clock.Advance(2 * time.Minute)
	_ = g.Estimate(context.Background(), "Central Station", "Grand Hotel")
	if fc.calls != 2 {
		t.Fatalf("expected expired entry to refetch, got %d calls", fc.calls)
	}
}
