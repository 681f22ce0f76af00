package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/lozlokesh-lgtm/taxi/internal/models"
	"github.com/lozlokesh-lgtm/taxi/internal/router"
	"github.com/lozlokesh-lgtm/taxi/internal/sim"
	"github.com/lozlokesh-lgtm/taxi/internal/storage"
	"github.com/lozlokesh-lgtm/taxi/internal/stream"
	"github.com/lozlokesh-lgtm/taxi/internal/views"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	return newLoggedTestServer(t, nil)
}

func newLoggedTestServer(t *testing.T, logger *slog.Logger) *Server {
	t.Helper()
	clock := clockwork.NewFakeClock()
	store := storage.NewMemoryStore()
	if err := sim.Seed(store, clock.Now()); err != nil {
		t.Fatal(err)
	}
	reg := router.NewRegistry(router.Deps{
		Store:            store,
		Clock:            clock,
		CallConnectDelay: 1500 * time.Millisecond,
		Go:               func(f func()) { f() },
	}, time.Hour)
	return NewServer(reg, store, stream.NewHub(clock, time.Hour, nil), logger)
}

type response struct {
	Session string     `json:"session"`
	View    views.Page `json:"view"`
	Error   string     `json:"error"`
	Fields  []string   `json:"fields"`
}

func do(t *testing.T, s *Server, method, path string, body any) (int, response) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	var out response
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("%s %s: decode %q: %v", method, path, rec.Body.String(), err)
		}
	}
	return rec.Code, out
}

func newSession(t *testing.T, s *Server) string {
	t.Helper()
	code, res := do(t, s, http.MethodPost, "/api/v1/sessions", nil)
	if code != http.StatusCreated || res.Session == "" || res.View.Screen != views.ScreenLanding {
		t.Fatalf("create session: %d %+v", code, res)
	}
	return res.Session
}

func registerDriver(t *testing.T, s *Server, name string) string {
	t.Helper()
	id := newSession(t, s)
	base := "/api/v1/sessions/" + id
	if code, res := do(t, s, http.MethodPost, base+"/role", map[string]string{"role": "DRIVER"}); code != http.StatusOK || res.View.Screen != views.ScreenDriverRegistration {
		t.Fatalf("select driver: %d %+v", code, res)
	}
	form := views.DriverForm{Name: name, Phone: "555-0123", CarModel: "Prius", CarColor: "White", PlateNumber: "XYZ-1"}
	if code, res := do(t, s, http.MethodPost, base+"/driver", form); code != http.StatusOK || res.View.Screen != views.ScreenDriverDashboard {
		t.Fatalf("register: %d %+v", code, res)
	}
	return id
}

func TestAcceptConflict(t *testing.T) {
	s := newTestServer(t)
	jane := registerDriver(t, s, "Jane Doe")
	code, res := do(t, s, http.MethodPost, "/api/v1/sessions/"+jane+"/trips/t1/accept", nil)
	if code != http.StatusOK {
		t.Fatalf("accept: %d %+v", code, res)
	}
	if c := res.View.Dashboard.Trips[0]; c.ID != "t1" || c.Badge != views.BadgeAcceptedByYou {
		t.Fatalf("unexpected card %+v", c)
	}

	john := registerDriver(t, s, "John Roe")
	code, res = do(t, s, http.MethodPost, "/api/v1/sessions/"+john+"/trips/t1/accept", nil)
	if code != http.StatusConflict || !strings.Contains(res.Error, "not pending") {
		t.Fatalf("expected 409, got %d %+v", code, res)
	}
}

func TestErrorMapping(t *testing.T) {
	s := newTestServer(t)
	id := newSession(t, s)
	base := "/api/v1/sessions/" + id

	cases := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"unknown session", http.MethodGet, "/api/v1/sessions/nope", nil, http.StatusNotFound},
		{"malformed body", http.MethodPost, base + "/role", "{", http.StatusBadRequest},
		{"bad role", http.MethodPost, base + "/role", map[string]string{"role": "PILOT"}, http.StatusBadRequest},
		{"register from landing", http.MethodPost, base + "/driver", views.DriverForm{}, http.StatusConflict},
		{"accept without profile", http.MethodPost, base + "/trips/t1/accept", nil, http.StatusConflict},
		{"close without overlay", http.MethodDelete, base + "/communication", nil, http.StatusConflict},
		{"unknown trip", http.MethodPost, base + "/communication", map[string]string{"tripId": "missing", "mode": "CHAT"}, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, res := do(t, s, tc.method, tc.path, tc.body)
			if code != tc.want || res.Error == "" {
				t.Fatalf("got %d %+v, want %d with error", code, res, tc.want)
			}
		})
	}
}

func TestPassengerFlow(t *testing.T) {
	s := newTestServer(t)
	id := newSession(t, s)
	base := "/api/v1/sessions/" + id
	do(t, s, http.MethodPost, base+"/role", map[string]string{"role": "PASSENGER"})

	code, res := do(t, s, http.MethodPost, base+"/passenger/request", nil)
	if code != http.StatusBadRequest || len(res.Fields) == 0 {
		t.Fatalf("expected validation error, got %d %+v", code, res)
	}

	do(t, s, http.MethodPatch, base+"/passenger/form", map[string]any{"passengerName": "Bob", "passengerPhone": "555-2222"})
	code, res = do(t, s, http.MethodPatch, base+"/passenger/form", map[string]any{"pickupLocation": "Pier 9", "dropoffLocation": "Museum", "time": "16:00"})
	if code != http.StatusOK || res.View.Passenger.Form.PassengerName != "Bob" || res.View.Passenger.Form.Passengers != 1 {
		t.Fatalf("patch should merge fields: %d %+v", code, res.View.Passenger)
	}
	if code, _ := do(t, s, http.MethodPost, base+"/passenger/form/blur", map[string]string{"field": "dropoffLocation"}); code != http.StatusOK {
		t.Fatalf("blur: %d", code)
	}
	code, res = do(t, s, http.MethodPost, base+"/passenger/request", nil)
	if code != http.StatusOK || res.View.Passenger.State != views.PassengerWaiting {
		t.Fatalf("submit: %d %+v", code, res.View.Passenger)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/trips", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	var trips []models.TripRequest
	if err := json.Unmarshal(rec.Body.Bytes(), &trips); err != nil {
		t.Fatal(err)
	}
	if len(trips) != 2 || trips[0].PickupLocation != "Pier 9" || trips[0].EstimatedPrice != "" || trips[1].EstimatedPrice != "$12 - $15" {
		t.Fatalf("unexpected trips %+v", trips)
	}
	if !strings.Contains(rec.Body.String(), `"status":"PENDING"`) || strings.Contains(rec.Body.String(), `"estimatedPrice":""`) {
		t.Fatalf("unexpected wire format %s", rec.Body.String())
	}
}

func TestPatchFormRejectsBadFieldsAtomically(t *testing.T) {
	s := newTestServer(t)
	base := "/api/v1/sessions/" + newSession(t, s)
	do(t, s, http.MethodPost, base+"/role", map[string]string{"role": "PASSENGER"})
	do(t, s, http.MethodPatch, base+"/passenger/form", map[string]any{"passengerName": "Bob"})

	code, res := do(t, s, http.MethodPatch, base+"/passenger/form", `{"passengerName":"Eve","passengers":"many"}`)
	if code != http.StatusBadRequest || res.Error == "" {
		t.Fatalf("expected 400 for a mistyped field, got %d %+v", code, res)
	}
	_, res = do(t, s, http.MethodGet, base, nil)
	if got := res.View.Passenger.Form.PassengerName; got != "Bob" {
		t.Fatalf("rejected patch leaked into the form: %q", got)
	}
}

func TestChatOverHTTP(t *testing.T) {
	s := newTestServer(t)
	jane := "/api/v1/sessions/" + registerDriver(t, s, "Jane Doe")
	do(t, s, http.MethodPost, jane+"/trips/t1/accept", nil)

	code, res := do(t, s, http.MethodPost, jane+"/communication", map[string]string{"tripId": "t1"})
	if code != http.StatusOK || res.View.Communication.Mode != views.ModeChat {
		t.Fatalf("open: %d %+v", code, res)
	}
	if code, _ := do(t, s, http.MethodPost, jane+"/communication/messages", map[string]string{"text": "  "}); code != http.StatusBadRequest {
		t.Fatalf("empty message should be rejected, got %d", code)
	}
	code, res = do(t, s, http.MethodPost, jane+"/communication/messages", map[string]string{"text": "I'm here"})
	if code != http.StatusOK || len(res.View.Communication.Messages) != 1 || !res.View.Communication.Messages[0].Mine {
		t.Fatalf("send: %d %+v", code, res.View.Communication)
	}
	code, res = do(t, s, http.MethodPut, jane+"/communication/mode", map[string]string{"mode": "CALL"})
	if code != http.StatusOK || res.View.Communication.Call == nil || res.View.Communication.Call.Phase != views.CallConnecting {
		t.Fatalf("switch: %d %+v", code, res.View.Communication)
	}
	if code, res = do(t, s, http.MethodPost, jane+"/communication/mute", nil); code != http.StatusOK || !res.View.Communication.Call.Muted {
		t.Fatalf("mute: %d", code)
	}
	code, res = do(t, s, http.MethodDelete, jane+"/communication", nil)
	if code != http.StatusOK || res.View.Screen != views.ScreenDriverDashboard {
		t.Fatalf("close: %d %+v", code, res)
	}
}

func TestDeleteSession(t *testing.T) {
	s := newTestServer(t)
	id := newSession(t, s)
	if code, _ := do(t, s, http.MethodDelete, "/api/v1/sessions/"+id, nil); code != http.StatusNoContent {
		t.Fatalf("delete: %d", code)
	}
	if code, _ := do(t, s, http.MethodGet, "/api/v1/sessions/"+id, nil); code != http.StatusNotFound {
		t.Fatalf("deleted session should 404, got %d", code)
	}
}

func TestReady(t *testing.T) {
	s := newTestServer(t)
	if code, _ := do(t, s, http.MethodGet, "/ready", nil); code != http.StatusOK {
		t.Fatalf("ready: %d", code)
	}
	s.Ready = func(context.Context) error { return errors.New("redis down") }
	if code, _ := do(t, s, http.MethodGet, "/ready", nil); code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", code)
	}
}

func TestRequestIDEchoed(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions", nil)
	req.Header.Set("X-Request-ID", "abc")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "abc" {
		t.Fatalf("expected request id to be echoed, got %q", got)
	}
}

func TestAccessLogNamesRoute(t *testing.T) {
	var buf bytes.Buffer
	s := newLoggedTestServer(t, slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	id := newSession(t, s)
	buf.Reset()
	do(t, s, http.MethodPost, "/api/v1/sessions/"+id+"/role", map[string]string{"role": "DRIVER"})

	var line map[string]any
	for _, raw := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		var m map[string]any
		if json.Unmarshal(raw, &m) == nil && m["msg"] == "http_request" {
			line = m
		}
	}
	if line == nil {
		t.Fatalf("no access log line in %s", buf.String())
	}
	if line["route_name"] != "select_role" || line["session_id"] != id || line["route"] != "/api/v1/sessions/{id}/role" || line["level"] != "INFO" {
		t.Fatalf("unexpected access log %v", line)
	}

	buf.Reset()
	s.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if !strings.Contains(buf.String(), `"route_name":"healthz"`) || !strings.Contains(buf.String(), `"level":"DEBUG"`) {
		t.Fatalf("health checks should log at debug, got %s", buf.String())
	}
}

func TestWebsocketStream(t *testing.T) {
	s := newTestServer(t)
	id := newSession(t, s)
	srv := httptest.NewServer(s)
	defer srv.Close()

	c, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/sessions/"+id, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	var p views.Page
	if err := c.ReadJSON(&p); err != nil || p.Screen != views.ScreenLanding {
		t.Fatalf("initial frame: %v %+v", err, p)
	}

	do(t, s, http.MethodPost, "/api/v1/sessions/"+id+"/role", map[string]string{"role": "PASSENGER"})
	if err := c.ReadJSON(&p); err != nil || p.Screen != views.ScreenPassengerRequest {
		t.Fatalf("pushed frame: %v %+v", err, p)
	}
}
