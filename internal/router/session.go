package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/lozlokesh-lgtm/taxi/internal/events"
	"github.com/lozlokesh-lgtm/taxi/internal/logging"
	"github.com/lozlokesh-lgtm/taxi/internal/models"
	"github.com/lozlokesh-lgtm/taxi/internal/observability"
	"github.com/lozlokesh-lgtm/taxi/internal/replies"
	"github.com/lozlokesh-lgtm/taxi/internal/storage"
	"github.com/lozlokesh-lgtm/taxi/internal/views"
)

// passengerSenderID is the fixed sender id used for passenger chat messages;
// passengers have no identity in this demo.
const passengerSenderID = "p1"

type Estimator interface {
	Estimate(ctx context.Context, pickup, dropoff string) *models.TripEstimate
}

type Replier interface {
	Suggest(ctx context.Context, role models.Role, lastMessage string, status models.TripStatus) []string
}

// Deps are shared by every session of a Registry.
type Deps struct {
	Store            storage.TripStore
	Estimator        Estimator
	Replies          Replier
	Publisher        events.Publisher
	Clock            clockwork.Clock
	Logger           *slog.Logger
	CallConnectDelay time.Duration
	// Context bounds gateway calls started on behalf of sessions.
	Context context.Context
	// Go runs async work. Tests swap in a synchronous runner.
	Go func(func())
}

func (d *Deps) defaults() {
	if d.Logger == nil {
		d.Logger = logging.Discard()
	}
	if d.Clock == nil {
		d.Clock = clockwork.NewRealClock()
	}
	if d.Context == nil {
		d.Context = context.Background()
	}
	if d.Go == nil {
		d.Go = func(f func()) { go f() }
	}
	if d.Publisher == nil {
		d.Publisher = events.LogPublisher{Logger: d.Logger}
	}
}

type overlay struct {
	tripID string
	mode   views.Mode
}

// passengerState is the local state of the passenger request screen; it is
// reset whenever that screen is left.
type passengerState struct {
	form        views.RideForm
	estimate    *models.TripEstimate
	estimating  bool
	estimateSeq uint64
	requestSent bool
}

// commState is the local state of the communication overlay; reset on close.
type commState struct {
	suggestions []string
	repliedTo   string // id of the incoming message suggestions were requested for
	call        *CallSession
}

// Session is one client's Role Router: current screen, role, driver
// profile, the passenger's active trip and the communication overlay.
// Intents on a session are serialized by mu.
type Session struct {
	ID string

	deps   *Deps
	logger *slog.Logger

	mu              sync.Mutex
	screen          views.Screen
	role            models.Role
	driver          *models.Driver
	passengerTripID string
	overlay         overlay
	passenger       passengerState
	comm            commState
	// viewEpoch changes whenever the passenger screen or the overlay is
	// mounted or unmounted; async results carry the epoch they started under
	// and are dropped if it moved on.
	viewEpoch uint64
	lastSeen  time.Time
	closed    bool

	changed chan struct{}
	done    chan struct{}
}

func newSession(id string, deps *Deps) *Session {
	return &Session{
		ID:        id,
		deps:      deps,
		logger:    deps.Logger.With("session_id", id),
		screen:    views.ScreenLanding,
		role:      models.RoleNone,
		overlay:   overlay{mode: views.ModeChat},
		passenger: passengerState{form: views.NewRideForm()},
		lastSeen:  deps.Clock.Now(),
		changed:   make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

// Changed fires after any intent or async result touched the session.
func (s *Session) Changed() <-chan struct{} { return s.changed }

// Done is closed when the session is torn down.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) Screen() views.Screen {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.screen
}

func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// View renders the session. Rendering may kick off a smart-reply request for
// a newly arrived message.
func (s *Session) View() views.Page {
	page, _ := s.run(func(*tasks) error { return nil }, false)
	return page
}

// tasks collects work that must run after the session lock is released.
type tasks struct {
	async  []func()
	events []events.Event
}

func (t *tasks) emit(e events.Event) { t.events = append(t.events, e) }

// apply runs an intent: fn under the lock, render, then follow-up work once
// the lock is released. Watchers are told the session changed.
func (s *Session) apply(fn func(t *tasks) error) (views.Page, error) {
	return s.run(fn, true)
}

func (s *Session) run(fn func(t *tasks) error, changed bool) (views.Page, error) {
	var t tasks
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return views.LandingPage(), ErrSessionNotFound
	}
	s.lastSeen = s.deps.Clock.Now()
	err := fn(&t)
	page := s.renderLocked(&t)
	s.mu.Unlock()

	s.flush(&t)
	if changed {
		s.notify()
	}
	return page, err
}

// flush hands events to the publisher in intent order, then starts async
// work. The publisher is expected to be quick; slow sinks go behind an
// events.Queue.
func (s *Session) flush(t *tasks) {
	for _, e := range t.events {
		events.Emit(s.deps.Context, s.deps.Publisher, s.logger, e)
	}
	for _, f := range t.async {
		s.deps.Go(f)
	}
}

func (s *Session) notify() {
	select {
	case s.changed <- struct{}{}:
	default:
	}
}

// transitions is the closed screen state machine. Guards (driver profile,
// passenger sub-state) are applied by the intent methods.
type event string

const (
	evSelectPassenger event = "select_passenger"
	evSelectDriver    event = "select_driver"
	evRegister        event = "register"
	evBack            event = "back"
)

var transitions = map[views.Screen]map[event]views.Screen{
	views.ScreenLanding: {
		evSelectPassenger: views.ScreenPassengerRequest,
		evSelectDriver:    views.ScreenDriverRegistration,
	},
	views.ScreenDriverRegistration: {
		evRegister: views.ScreenDriverDashboard,
		evBack:     views.ScreenLanding,
	},
	views.ScreenDriverDashboard: {
		evBack: views.ScreenLanding,
	},
	views.ScreenPassengerRequest: {
		evBack: views.ScreenLanding,
	},
}

func (s *Session) next(ev event) (views.Screen, error) {
	to, ok := transitions[s.screen][ev]
	if !ok {
		return "", fmt.Errorf("%s on %s: %w", ev, s.screen, ErrInvalidTransition)
	}
	return to, nil
}

// enter moves to screen, resetting the local state of the screen left behind.
func (s *Session) enter(screen views.Screen) {
	if s.screen == views.ScreenPassengerRequest || screen == views.ScreenPassengerRequest {
		s.passenger = passengerState{form: views.NewRideForm()}
		s.viewEpoch++
	}
	s.screen = screen
}

func (s *Session) SelectRole(role models.Role) (views.Page, error) {
	return s.apply(func(t *tasks) error {
		if role != models.RoleDriver && role != models.RolePassenger {
			return fmt.Errorf("%q: %w", role, ErrInvalidRole)
		}
		ev := evSelectPassenger
		if role == models.RoleDriver {
			ev = evSelectDriver
		}
		to, err := s.next(ev)
		if err != nil {
			return err
		}
		if role == models.RoleDriver && s.driver != nil {
			to = views.ScreenDriverDashboard
		}
		s.role = role
		s.enter(to)
		return nil
	})
}

// Back returns to the landing screen from anywhere, dropping the role and
// any open overlay. The driver profile and the passenger's active trip
// survive for the next visit.
func (s *Session) Back() (views.Page, error) {
	return s.apply(func(t *tasks) error {
		if s.screen == views.ScreenLanding {
			s.closeOverlay()
			return nil
		}
		to, err := s.next(evBack)
		if err != nil {
			return err
		}
		s.closeOverlay()
		s.role = models.RoleNone
		s.enter(to)
		return nil
	})
}

func (s *Session) RegisterDriver(f views.DriverForm) (views.Page, error) {
	return s.apply(func(t *tasks) error {
		to, err := s.next(evRegister)
		if err != nil {
			return err
		}
		if missing := f.Missing(); len(missing) > 0 {
			return &FormError{Fields: missing}
		}
		name := strings.TrimSpace(f.Name)
		s.driver = &models.Driver{
			ID:           uuid.NewString(),
			Name:         name,
			Phone:        strings.TrimSpace(f.Phone),
			CarModel:     strings.TrimSpace(f.CarModel),
			CarColor:     strings.TrimSpace(f.CarColor),
			PlateNumber:  strings.TrimSpace(f.PlateNumber),
			PhotoURL:     models.DriverPhotoURL(name),
			IsRegistered: true,
		}
		s.logger.Info("driver registered", "driver_id", s.driver.ID)
		s.enter(to)
		return nil
	})
}

// Driver returns the registered profile, if any.
func (s *Session) Driver() (models.Driver, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.driver == nil {
		return models.Driver{}, false
	}
	return *s.driver, true
}

// AcceptTrip stamps the session's driver on a pending trip. A trip that is
// no longer pending is rejected with storage.ErrTripNotPending.
func (s *Session) AcceptTrip(tripID string) (views.Page, error) {
	return s.apply(func(t *tasks) error {
		if s.driver == nil {
			return ErrNoDriverProfile
		}
		if s.screen != views.ScreenDriverDashboard || s.overlay.tripID != "" {
			return fmt.Errorf("accept on %s: %w", s.screen, ErrInvalidTransition)
		}
		now := s.deps.Clock.Now()
		acc, err := s.deps.Store.Accept(tripID, s.driver.Assignment())
		if err != nil {
			if errors.Is(err, storage.ErrTripNotPending) {
				observability.TripAcceptRejected.Inc()
				t.emit(events.Event{Type: events.TripAcceptRejected, TripID: tripID, DriverID: s.driver.ID, At: now})
			}
			s.logger.Info("accept rejected", "trip_id", tripID, "driver_id", s.driver.ID, "error", err)
			return err
		}
		observability.TripsAccepted.Inc()
		s.logger.Info("trip accepted", "trip_id", tripID, "driver_id", s.driver.ID)
		t.emit(events.Event{Type: events.TripAccepted, TripID: acc.ID, Status: acc.Status(), DriverID: s.driver.ID, At: now})
		return nil
	})
}

// UpdateForm overwrites the passenger form with f.
func (s *Session) UpdateForm(f views.RideForm) (views.Page, error) {
	return s.PatchForm(func(cur *views.RideForm) error {
		*cur = f
		return nil
	})
}

// PatchForm edits a copy of the passenger form under the session lock and
// keeps it only if patch succeeds.
func (s *Session) PatchForm(patch func(*views.RideForm) error) (views.Page, error) {
	return s.apply(func(t *tasks) error {
		if err := s.requireForm(); err != nil {
			return err
		}
		f := s.passenger.form
		if err := patch(&f); err != nil {
			return err
		}
		s.setFormLocked(f)
		return nil
	})
}

// setFormLocked stores f. Moving either location drops the estimate and
// cancels any fetch for the old route.
func (s *Session) setFormLocked(f views.RideForm) {
	oldPickup, oldDropoff := routeOf(s.passenger.form)
	s.passenger.form = f
	if pickup, dropoff := routeOf(f); pickup != oldPickup || dropoff != oldDropoff {
		s.passenger.estimate = nil
		s.passenger.estimating = false
		s.passenger.estimateSeq++
	}
}

func routeOf(f views.RideForm) (pickup, dropoff string) {
	return strings.TrimSpace(f.PickupLocation), strings.TrimSpace(f.DropoffLocation)
}

// FormState returns a copy of the passenger form.
func (s *Session) FormState() views.RideForm {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.passenger.form
}

func (s *Session) requireForm() error {
	if s.screen != views.ScreenPassengerRequest {
		return fmt.Errorf("form on %s: %w", s.screen, ErrInvalidTransition)
	}
	if views.SubState(s.passengerInputLocked()) != views.PassengerForm {
		return fmt.Errorf("form already submitted: %w", ErrInvalidTransition)
	}
	return nil
}

// BlurLocation mirrors leaving a location field: once both locations are
// filled, an estimate is fetched in the background. The result is applied
// only if the passenger screen is still the one that asked for it.
func (s *Session) BlurLocation(field string) (views.Page, error) {
	return s.apply(func(t *tasks) error {
		if field != "pickupLocation" && field != "dropoffLocation" {
			return fmt.Errorf("blur %q: %w", field, ErrInvalidForm)
		}
		if err := s.requireForm(); err != nil {
			return err
		}
		pickup, dropoff := routeOf(s.passenger.form)
		if pickup == "" || dropoff == "" || s.deps.Estimator == nil {
			return nil
		}
		s.passenger.estimating = true
		s.passenger.estimateSeq++
		epoch, seq := s.viewEpoch, s.passenger.estimateSeq
		t.async = append(t.async, func() {
			e := s.deps.Estimator.Estimate(s.deps.Context, pickup, dropoff)
			s.mu.Lock()
			p, d := routeOf(s.passenger.form)
			applied := !s.closed && s.viewEpoch == epoch && s.passenger.estimateSeq == seq && p == pickup && d == dropoff
			if applied {
				s.passenger.estimate = e
				s.passenger.estimating = false
			}
			s.mu.Unlock()
			if !applied {
				s.logger.Debug("discarding stale estimate", "pickup", pickup, "dropoff", dropoff)
				return
			}
			s.notify()
		})
		return nil
	})
}

// SubmitRide creates the passenger's pending trip. Estimate fields are copied
// only when an estimate is present.
func (s *Session) SubmitRide() (views.Page, error) {
	return s.apply(func(t *tasks) error {
		if err := s.requireForm(); err != nil {
			return err
		}
		if s.passenger.estimating {
			return ErrEstimateInFlight
		}
		f := s.passenger.form
		if missing := f.Missing(); len(missing) > 0 {
			return &FormError{Fields: missing}
		}
		now := s.deps.Clock.Now()
		trip := models.PendingTrip{TripDetails: models.TripDetails{
			ID:              uuid.NewString(),
			PassengerName:   strings.TrimSpace(f.PassengerName),
			PassengerPhone:  strings.TrimSpace(f.PassengerPhone),
			PickupLocation:  strings.TrimSpace(f.PickupLocation),
			DropoffLocation: strings.TrimSpace(f.DropoffLocation),
			Time:            strings.TrimSpace(f.Time),
			Passengers:      f.Passengers,
			Notes:           strings.TrimSpace(f.Notes),
			CreatedAt:       now,
			ChatHistory:     []models.ChatMessage{},
		}}
		if e := s.passenger.estimate; e != nil {
			est := *e
			trip.Estimate = &est
		}
		if err := s.deps.Store.Add(trip); err != nil {
			return err
		}
		observability.TripsCreated.WithLabelValues("passenger").Inc()
		s.passengerTripID = trip.ID
		s.passenger.requestSent = true
		s.logger.Info("ride requested", "trip_id", trip.ID, "has_estimate", trip.Estimate != nil)
		t.emit(events.Event{Type: events.TripRequested, TripID: trip.ID, Status: models.StatusPending, Role: models.RolePassenger, At: now})
		return nil
	})
}

// ActiveTripID is the passenger's submitted trip, empty before submission.
func (s *Session) ActiveTripID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.passengerTripID
}

// OpenCommunication opens the chat/call overlay on a trip the session takes
// part in: accepted by this driver, or the passenger's own accepted trip.
func (s *Session) OpenCommunication(tripID string, mode views.Mode) (views.Page, error) {
	return s.apply(func(t *tasks) error {
		if !mode.Valid() {
			return fmt.Errorf("%q: %w", mode, ErrInvalidMode)
		}
		trip, ok := s.deps.Store.Get(tripID)
		if !ok {
			return fmt.Errorf("open %s: %w", tripID, storage.ErrTripNotFound)
		}
		if !s.participates(trip) {
			return fmt.Errorf("open %s: %w", tripID, ErrCommunicationNotAllowed)
		}
		s.comm = commState{}
		s.overlay = overlay{tripID: tripID, mode: mode}
		s.viewEpoch++
		if mode == views.ModeCall {
			s.comm.call = newCallSession(s.deps.Clock.Now(), s.deps.CallConnectDelay)
		}
		return nil
	})
}

func (s *Session) participates(trip models.Trip) bool {
	a, ok := models.AssignmentOf(trip)
	if !ok || trip.Status() != models.StatusAccepted {
		return false
	}
	switch s.screen {
	case views.ScreenDriverDashboard:
		return s.driver != nil && a.DriverID == s.driver.ID
	case views.ScreenPassengerRequest:
		return trip.Details().ID == s.passengerTripID
	}
	return false
}

// CloseCommunication returns to the underlying screen. Only the trip id is
// cleared; the last mode is kept on the session.
func (s *Session) CloseCommunication() (views.Page, error) {
	return s.apply(func(t *tasks) error {
		if s.overlay.tripID == "" {
			return ErrNoOverlay
		}
		s.closeOverlay()
		return nil
	})
}

func (s *Session) closeOverlay() {
	if s.overlay.tripID == "" {
		return
	}
	s.overlay.tripID = ""
	s.comm = commState{}
	s.viewEpoch++
}

// Mode is the overlay mode, retained after close.
func (s *Session) Mode() views.Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.overlay.mode
}

// SwitchMode flips between chat and call inside the open overlay. Leaving
// CALL ends the call; entering it starts a fresh one.
func (s *Session) SwitchMode(mode views.Mode) (views.Page, error) {
	return s.apply(func(t *tasks) error {
		if !mode.Valid() {
			return fmt.Errorf("%q: %w", mode, ErrInvalidMode)
		}
		if s.overlay.tripID == "" {
			return ErrNoOverlay
		}
		if mode == s.overlay.mode {
			return nil
		}
		s.overlay.mode = mode
		if mode == views.ModeCall {
			s.comm.call = newCallSession(s.deps.Clock.Now(), s.deps.CallConnectDelay)
		} else {
			s.comm.call = nil
		}
		return nil
	})
}

// ToggleMute flips local mute state; there is no audio to affect.
func (s *Session) ToggleMute() (views.Page, error) {
	return s.apply(func(t *tasks) error {
		if s.overlay.tripID == "" || s.comm.call == nil {
			return fmt.Errorf("mute outside a call: %w", ErrInvalidTransition)
		}
		s.comm.call.Muted = !s.comm.call.Muted
		return nil
	})
}

// SendMessage appends text to the overlay's trip and clears the current
// suggestions. A trip that vanished from the store is ignored.
func (s *Session) SendMessage(text string) (views.Page, error) {
	return s.apply(func(t *tasks) error {
		if s.overlay.tripID == "" {
			return ErrNoOverlay
		}
		text = strings.TrimSpace(text)
		if text == "" {
			return ErrEmptyMessage
		}
		senderID := passengerSenderID
		if s.role == models.RoleDriver && s.driver != nil {
			senderID = s.driver.ID
		}
		now := s.deps.Clock.Now()
		msg := models.ChatMessage{ID: uuid.NewString(), SenderID: senderID, SenderRole: s.role, Text: text, Timestamp: now}
		if _, err := s.deps.Store.AppendMessage(s.overlay.tripID, msg); err != nil {
			if errors.Is(err, storage.ErrTripNotFound) {
				s.logger.Debug("message dropped, trip gone", "trip_id", s.overlay.tripID)
				return nil
			}
			return err
		}
		observability.ChatMessages.WithLabelValues(string(s.role)).Inc()
		s.comm.suggestions = []string{}
		s.comm.repliedTo = msg.ID
		t.emit(events.Event{Type: events.TripMessage, TripID: s.overlay.tripID, Role: s.role, At: now})
		return nil
	})
}

func (s *Session) passengerInputLocked() views.PassengerInput {
	in := views.PassengerInput{
		Form:        s.passenger.form,
		Estimate:    s.passenger.estimate,
		Estimating:  s.passenger.estimating,
		RequestSent: s.passenger.requestSent,
	}
	if s.passengerTripID != "" {
		if trip, ok := s.deps.Store.Get(s.passengerTripID); ok {
			in.ActiveTrip = trip
		}
	}
	return in
}

func (s *Session) renderLocked(t *tasks) views.Page {
	if s.overlay.tripID != "" {
		if trip, ok := s.deps.Store.Get(s.overlay.tripID); ok {
			s.refreshSuggestionsLocked(trip, t)
			in := views.CommunicationInput{
				Trip:        trip,
				Role:        s.role,
				Mode:        s.overlay.mode,
				Suggestions: s.comm.suggestions,
			}
			if s.comm.call != nil {
				call := s.comm.call.View(s.deps.Clock.Now())
				in.Call = &call
			}
			return views.CommunicationPage(in)
		}
	}
	switch s.screen {
	case views.ScreenDriverRegistration:
		return views.RegistrationPage()
	case views.ScreenDriverDashboard:
		if s.driver == nil {
			return views.RegistrationPage()
		}
		return views.DashboardPage(*s.driver, s.deps.Store.List())
	case views.ScreenPassengerRequest:
		return views.PassengerPage(s.passengerInputLocked())
	}
	return views.LandingPage()
}

// refreshSuggestionsLocked offers canned greetings on an empty chat and asks
// the reply gateway once per incoming message.
func (s *Session) refreshSuggestionsLocked(trip models.Trip, t *tasks) {
	last, ok := models.LastMessage(trip)
	if !ok {
		if s.comm.suggestions == nil {
			s.comm.suggestions = replies.Canned(s.role)
		}
		return
	}
	if last.SenderRole == s.role || last.ID == s.comm.repliedTo || s.deps.Replies == nil {
		return
	}
	s.comm.repliedTo = last.ID
	epoch, tripID, role, status := s.viewEpoch, trip.Details().ID, s.role, trip.Status()
	t.async = append(t.async, func() {
		got := s.deps.Replies.Suggest(s.deps.Context, role, last.Text, status)
		s.mu.Lock()
		applied := !s.closed && s.viewEpoch == epoch && s.overlay.tripID == tripID &&
			s.comm.repliedTo == last.ID && s.stillLastLocked(tripID, last.ID)
		if applied {
			s.comm.suggestions = got
		}
		s.mu.Unlock()
		if applied {
			s.notify()
		}
	})
}

// stillLastLocked reports whether msgID is still the newest message of the
// trip, so a reply computed for it is not shown after the chat moved on.
func (s *Session) stillLastLocked(tripID, msgID string) bool {
	trip, ok := s.deps.Store.Get(tripID)
	if !ok {
		return false
	}
	m, ok := models.LastMessage(trip)
	return ok && m.ID == msgID
}

// teardown drops all per-view state; pending async results will find the
// session closed and discard themselves.
func (s *Session) teardown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.comm = commState{}
	s.viewEpoch++
	close(s.done)
}
