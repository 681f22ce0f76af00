package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lozlokesh-lgtm/taxi/internal/logging"
	"github.com/lozlokesh-lgtm/taxi/internal/models"
	"github.com/lozlokesh-lgtm/taxi/internal/router"
	"github.com/lozlokesh-lgtm/taxi/internal/storage"
	"github.com/lozlokesh-lgtm/taxi/internal/stream"
	"github.com/lozlokesh-lgtm/taxi/internal/views"
)

const maxBodyBytes = 64 << 10

type Server struct {
	Sessions *router.Registry
	Store    storage.TripStore
	Hub      *stream.Hub
	// Ready reports whether backing services are reachable. Nil means always ready.
	Ready func(ctx context.Context) error

	logger *slog.Logger
	mux    *mux.Router
}

func NewServer(sessions *router.Registry, store storage.TripStore, hub *stream.Hub, logger *slog.Logger) *Server {
	s := &Server{
		Sessions: sessions,
		Store:    store,
		Hub:      hub,
		logger:   logging.Component(logger, "http"),
		mux:      mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/sessions", s.handleCreateSession).Methods(http.MethodPost).Name("create_session")
	api.HandleFunc("/sessions/{id}", s.handleGetSession).Methods(http.MethodGet).Name("get_session")
	api.HandleFunc("/sessions/{id}", s.handleDeleteSession).Methods(http.MethodDelete).Name("delete_session")
	api.HandleFunc("/sessions/{id}/role", s.handleSelectRole).Methods(http.MethodPost).Name("select_role")
	api.HandleFunc("/sessions/{id}/back", s.intent(func(ss *router.Session, r *http.Request) (views.Page, error) {
		return ss.Back()
	})).Methods(http.MethodPost).Name("back")
	api.HandleFunc("/sessions/{id}/driver", s.handleRegisterDriver).Methods(http.MethodPost).Name("register_driver")
	api.HandleFunc("/sessions/{id}/trips/{trip_id}/accept", s.intent(func(ss *router.Session, r *http.Request) (views.Page, error) {
		return ss.AcceptTrip(mux.Vars(r)["trip_id"])
	})).Methods(http.MethodPost).Name("accept_trip")
	api.HandleFunc("/sessions/{id}/passenger/form", s.handleUpdateForm).Methods(http.MethodPatch).Name("update_form")
	api.HandleFunc("/sessions/{id}/passenger/form/blur", s.handleBlur).Methods(http.MethodPost).Name("blur_location")
	api.HandleFunc("/sessions/{id}/passenger/request", s.intent(func(ss *router.Session, r *http.Request) (views.Page, error) {
		return ss.SubmitRide()
	})).Methods(http.MethodPost).Name("submit_ride")
	api.HandleFunc("/sessions/{id}/communication", s.handleOpenCommunication).Methods(http.MethodPost).Name("open_communication")
	api.HandleFunc("/sessions/{id}/communication", s.intent(func(ss *router.Session, r *http.Request) (views.Page, error) {
		return ss.CloseCommunication()
	})).Methods(http.MethodDelete).Name("close_communication")
	api.HandleFunc("/sessions/{id}/communication/mode", s.handleSwitchMode).Methods(http.MethodPut).Name("switch_mode")
	api.HandleFunc("/sessions/{id}/communication/messages", s.handleSendMessage).Methods(http.MethodPost).Name("send_message")
	api.HandleFunc("/sessions/{id}/communication/mute", s.intent(func(ss *router.Session, r *http.Request) (views.Page, error) {
		return ss.ToggleMute()
	})).Methods(http.MethodPost).Name("toggle_mute")
	api.HandleFunc("/trips", s.handleListTrips).Methods(http.MethodGet).Name("list_trips")

	s.mux.HandleFunc("/ws/sessions/{id}", s.handleWS).Methods(http.MethodGet).Name("stream")
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet).Name("healthz")
	s.mux.HandleFunc("/ready", s.handleReady).Methods(http.MethodGet).Name("ready")
	s.mux.Handle("/metrics", promhttp.Handler()).Name("metrics")
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

type sessionResponse struct {
	Session string     `json:"session"`
	View    views.Page `json:"view"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	ss := s.Sessions.Create()
	writeJSON(w, http.StatusCreated, sessionResponse{Session: ss.ID, View: ss.View()})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	ss, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{Session: ss.ID, View: ss.View()})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if !s.Sessions.Remove(mux.Vars(r)["id"]) {
		s.writeError(w, r, router.ErrSessionNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// intent adapts a session operation into a handler returning the new view.
func (s *Server) intent(fn func(*router.Session, *http.Request) (views.Page, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ss, ok := s.session(w, r)
		if !ok {
			return
		}
		page, err := fn(ss, r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, sessionResponse{Session: ss.ID, View: page})
	}
}

// bodyIntent is intent for operations that take a JSON body of type T.
func bodyIntent[T any](s *Server, fn func(*router.Session, T) (views.Page, error)) http.HandlerFunc {
	return s.intent(func(ss *router.Session, r *http.Request) (views.Page, error) {
		var body T
		if err := decode(r, &body); err != nil {
			return views.Page{}, err
		}
		return fn(ss, body)
	})
}

func (s *Server) handleSelectRole(w http.ResponseWriter, r *http.Request) {
	bodyIntent(s, func(ss *router.Session, b struct {
		Role models.Role `json:"role"`
	}) (views.Page, error) {
		return ss.SelectRole(b.Role)
	})(w, r)
}

func (s *Server) handleRegisterDriver(w http.ResponseWriter, r *http.Request) {
	bodyIntent(s, func(ss *router.Session, f views.DriverForm) (views.Page, error) {
		return ss.RegisterDriver(f)
	})(w, r)
}

// handleUpdateForm merges the supplied fields into the current form.
func (s *Server) handleUpdateForm(w http.ResponseWriter, r *http.Request) {
	s.intent(func(ss *router.Session, r *http.Request) (views.Page, error) {
		var raw json.RawMessage
		if err := decode(r, &raw); err != nil {
			return views.Page{}, err
		}
		return ss.PatchForm(func(f *views.RideForm) error {
			if err := json.Unmarshal(raw, f); err != nil {
				return errors.Join(errBadBody, err)
			}
			return nil
		})
	})(w, r)
}

func (s *Server) handleBlur(w http.ResponseWriter, r *http.Request) {
	bodyIntent(s, func(ss *router.Session, b struct {
		Field string `json:"field"`
	}) (views.Page, error) {
		return ss.BlurLocation(b.Field)
	})(w, r)
}

func (s *Server) handleOpenCommunication(w http.ResponseWriter, r *http.Request) {
	bodyIntent(s, func(ss *router.Session, b struct {
		TripID string     `json:"tripId"`
		Mode   views.Mode `json:"mode"`
	}) (views.Page, error) {
		if b.Mode == "" {
			b.Mode = views.ModeChat
		}
		return ss.OpenCommunication(b.TripID, b.Mode)
	})(w, r)
}

func (s *Server) handleSwitchMode(w http.ResponseWriter, r *http.Request) {
	bodyIntent(s, func(ss *router.Session, b struct {
		Mode views.Mode `json:"mode"`
	}) (views.Page, error) {
		return ss.SwitchMode(b.Mode)
	})(w, r)
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	bodyIntent(s, func(ss *router.Session, b struct {
		Text string `json:"text"`
	}) (views.Page, error) {
		return ss.SendMessage(b.Text)
	})(w, r)
}

func (s *Server) handleListTrips(w http.ResponseWriter, r *http.Request) {
	trips := s.Store.List()
	out := make([]models.TripRequest, 0, len(trips))
	for _, t := range trips {
		out = append(out, models.Flatten(t))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.Ready != nil {
		if err := s.Ready(r.Context()); err != nil {
			s.logger.Warn("readiness check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "not ready"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ss, ok := s.session(w, r)
	if !ok {
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "session_id", ss.ID, "error", err)
		return
	}
	if err := s.Hub.Serve(r.Context(), ss.ID, ss, conn); err != nil {
		s.logger.Debug("stream ended", "session_id", ss.ID, "error", err)
	}
}

func (s *Server) session(w http.ResponseWriter, r *http.Request) (*router.Session, bool) {
	ss, ok := s.Sessions.Get(mux.Vars(r)["id"])
	if !ok {
		s.writeError(w, r, router.ErrSessionNotFound)
		return nil, false
	}
	return ss, true
}

var errBadBody = errors.New("invalid request body")

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return errors.Join(errBadBody, err)
	}
	return nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, router.ErrSessionNotFound), errors.Is(err, storage.ErrTripNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrTripNotPending),
		errors.Is(err, storage.ErrDuplicateTrip),
		errors.Is(err, router.ErrInvalidTransition),
		errors.Is(err, router.ErrCommunicationNotAllowed),
		errors.Is(err, router.ErrEstimateInFlight),
		errors.Is(err, router.ErrNoDriverProfile),
		errors.Is(err, router.ErrNoOverlay):
		return http.StatusConflict
	case errors.Is(err, errBadBody),
		errors.Is(err, router.ErrInvalidForm),
		errors.Is(err, router.ErrEmptyMessage),
		errors.Is(err, router.ErrInvalidRole),
		errors.Is(err, router.ErrInvalidMode):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "error", err)
		writeJSON(w, status, map[string]any{"error": "internal error"})
		return
	}
	body := map[string]any{"error": err.Error()}
	var fe *router.FormError
	if errors.As(err, &fe) {
		body["fields"] = fe.Fields
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
