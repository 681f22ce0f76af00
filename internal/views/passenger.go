package views

import (
	"github.com/lozlokesh-lgtm/taxi/internal/models"
)

type PassengerState string

const (
	PassengerForm     PassengerState = "FORM"
	PassengerWaiting  PassengerState = "WAITING"
	PassengerAccepted PassengerState = "ACCEPTED"
)

const (
	MinPassengers = 1
	MaxPassengers = 6
)

// RideForm is the passenger request form state.
type RideForm struct {
	PassengerName   string `json:"passengerName"`
	PassengerPhone  string `json:"passengerPhone"`
	PickupLocation  string `json:"pickupLocation"`
	DropoffLocation string `json:"dropoffLocation"`
	Time            string `json:"time"`
	Passengers      int    `json:"passengers"`
	Notes           string `json:"notes"`
}

func NewRideForm() RideForm { return RideForm{Passengers: 1} }

// Missing lists required fields that are blank or out of range.
func (f RideForm) Missing() []string {
	out := missing(map[string]string{
		"passengerName": f.PassengerName, "passengerPhone": f.PassengerPhone,
		"pickupLocation": f.PickupLocation, "dropoffLocation": f.DropoffLocation, "time": f.Time,
	}, "passengerName", "passengerPhone", "pickupLocation", "dropoffLocation", "time")
	if f.Passengers < MinPassengers || f.Passengers > MaxPassengers {
		out = append(out, "passengers")
	}
	return out
}

// PassengerInput is everything the passenger screen is rendered from.
type PassengerInput struct {
	Form        RideForm
	Estimate    *models.TripEstimate
	Estimating  bool
	RequestSent bool
	ActiveTrip  models.Trip // nil until a request was submitted
}

type FormView struct {
	RideForm
	Estimate   *models.TripEstimate `json:"estimate,omitempty"`
	Estimating bool                 `json:"estimating"`
	CanSubmit  bool                 `json:"canSubmit"`
}

type Waiting struct {
	TripID  string `json:"tripId,omitempty"`
	Pickup  string `json:"pickup,omitempty"`
	Dropoff string `json:"dropoff,omitempty"`
}

type AcceptedRide struct {
	TripID            string `json:"tripId"`
	DriverName        string `json:"driverName"`
	DriverPhoto       string `json:"driverPhoto"`
	DriverCar         string `json:"driverCar"`
	EstimatedDuration string `json:"estimatedDuration,omitempty"`
	Pickup            string `json:"pickup"`
	Dropoff           string `json:"dropoff"`
	CanCall           bool   `json:"canCall"`
	CanMessage        bool   `json:"canMessage"`
	Unread            bool   `json:"unread"`
}

type Passenger struct {
	State    PassengerState `json:"state"`
	Form     *FormView      `json:"form,omitempty"`
	Waiting  *Waiting       `json:"waiting,omitempty"`
	Accepted *AcceptedRide  `json:"accepted,omitempty"`
}

// SubState picks the sub-screen: an accepted trip wins over a sent request,
// which wins over the form.
func SubState(in PassengerInput) PassengerState {
	if in.ActiveTrip != nil && in.ActiveTrip.Status() == models.StatusAccepted {
		return PassengerAccepted
	}
	if in.RequestSent || (in.ActiveTrip != nil && in.ActiveTrip.Status() == models.StatusPending) {
		return PassengerWaiting
	}
	return PassengerForm
}

func PassengerPage(in PassengerInput) Page {
	p := Page{Screen: ScreenPassengerRequest, Role: models.RolePassenger, ShowBack: true}
	v := &Passenger{State: SubState(in)}
	switch v.State {
	case PassengerAccepted:
		p.Title = "Driver is on the way"
		det := in.ActiveTrip.Details()
		a, _ := models.AssignmentOf(in.ActiveTrip)
		v.Accepted = &AcceptedRide{
			TripID:      det.ID,
			DriverName:  a.DriverName,
			DriverPhoto: a.DriverPhoto,
			DriverCar:   a.DriverCar,
			Pickup:      det.PickupLocation,
			Dropoff:     det.DropoffLocation,
			CanCall:     true,
			CanMessage:  true,
			Unread:      len(det.ChatHistory) > 0,
		}
		if det.Estimate != nil {
			v.Accepted.EstimatedDuration = det.Estimate.Duration
		}
	case PassengerWaiting:
		p.Title = "Request Sent"
		v.Waiting = &Waiting{}
		if in.ActiveTrip != nil {
			det := in.ActiveTrip.Details()
			v.Waiting.TripID, v.Waiting.Pickup, v.Waiting.Dropoff = det.ID, det.PickupLocation, det.DropoffLocation
		}
	default:
		p.Title = "Request a Ride"
		v.Form = &FormView{
			RideForm:   in.Form,
			Estimate:   in.Estimate,
			Estimating: in.Estimating,
			CanSubmit:  !in.Estimating,
		}
	}
	p.Passenger = v
	return p
}
