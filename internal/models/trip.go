package models

import (
	"errors"
	"time"
)

var ErrTripNotPending = errors.New("trip is not pending")

// TripDetails are the fields every trip carries regardless of status.
type TripDetails struct {
	ID              string
	PassengerName   string
	PassengerPhone  string
	PickupLocation  string
	DropoffLocation string
	Time            string
	Passengers      int
	Notes           string
	Estimate        *TripEstimate
	CreatedAt       time.Time
	ChatHistory     []ChatMessage
}

// Assignment holds the driver display fields stamped on acceptance.
type Assignment struct {
	DriverID    string
	DriverName  string
	DriverPhoto string
	DriverCar   string
}

// Trip is one of PendingTrip, AcceptedTrip, CompletedTrip or CancelledTrip.
// Only the variants that carry an Assignment have driver fields, so a trip can
// never be half assigned.
type Trip interface {
	Details() TripDetails
	Status() TripStatus
	withDetails(TripDetails) Trip
}

type PendingTrip struct{ TripDetails }

type AcceptedTrip struct {
	TripDetails
	Driver Assignment
}

type CompletedTrip struct {
	TripDetails
	Driver Assignment
}

type CancelledTrip struct {
	TripDetails
	Driver *Assignment
}

func (t PendingTrip) Details() TripDetails   { return t.TripDetails }
func (t AcceptedTrip) Details() TripDetails  { return t.TripDetails }
func (t CompletedTrip) Details() TripDetails { return t.TripDetails }
func (t CancelledTrip) Details() TripDetails { return t.TripDetails }

func (PendingTrip) Status() TripStatus   { return StatusPending }
func (AcceptedTrip) Status() TripStatus  { return StatusAccepted }
func (CompletedTrip) Status() TripStatus { return StatusCompleted }
func (CancelledTrip) Status() TripStatus { return StatusCancelled }

func (t PendingTrip) withDetails(d TripDetails) Trip   { t.TripDetails = d; return t }
func (t AcceptedTrip) withDetails(d TripDetails) Trip  { t.TripDetails = d; return t }
func (t CompletedTrip) withDetails(d TripDetails) Trip { t.TripDetails = d; return t }
func (t CancelledTrip) withDetails(d TripDetails) Trip { t.TripDetails = d; return t }

// AssignmentOf returns the driver stamped on t, if any.
func AssignmentOf(t Trip) (Assignment, bool) {
	switch v := t.(type) {
	case AcceptedTrip:
		return v.Driver, true
	case CompletedTrip:
		return v.Driver, true
	case CancelledTrip:
		if v.Driver != nil {
			return *v.Driver, true
		}
	}
	return Assignment{}, false
}

// Accept is the only implemented transition: PENDING -> ACCEPTED.
func Accept(t Trip, a Assignment) (AcceptedTrip, error) {
	p, ok := t.(PendingTrip)
	if !ok {
		return AcceptedTrip{}, ErrTripNotPending
	}
	return AcceptedTrip{TripDetails: p.TripDetails, Driver: a}, nil
}

// WithMessage returns a copy of t with m appended to its chat history. The
// history slice is copied so earlier snapshots never observe the append.
func WithMessage(t Trip, m ChatMessage) Trip {
	d := t.Details()
	history := make([]ChatMessage, len(d.ChatHistory), len(d.ChatHistory)+1)
	copy(history, d.ChatHistory)
	d.ChatHistory = append(history, m)
	return t.withDetails(d)
}

// LastMessage returns the newest chat message on t.
func LastMessage(t Trip) (ChatMessage, bool) {
	h := t.Details().ChatHistory
	if len(h) == 0 {
		return ChatMessage{}, false
	}
	return h[len(h)-1], true
}

// TripRequest is the flat wire shape of a trip.
type TripRequest struct {
	ID                string        `json:"id"`
	PassengerName     string        `json:"passengerName"`
	PassengerPhone    string        `json:"passengerPhone"`
	PickupLocation    string        `json:"pickupLocation"`
	DropoffLocation   string        `json:"dropoffLocation"`
	Time              string        `json:"time"`
	Passengers        int           `json:"passengers"`
	Notes             string        `json:"notes,omitempty"`
	Status            TripStatus    `json:"status"`
	EstimatedPrice    string        `json:"estimatedPrice,omitempty"`
	EstimatedDuration string        `json:"estimatedDuration,omitempty"`
	EstimatedDistance string        `json:"estimatedDistance,omitempty"`
	DriverID          string        `json:"driverId,omitempty"`
	DriverName        string        `json:"driverName,omitempty"`
	DriverPhoto       string        `json:"driverPhoto,omitempty"`
	DriverCar         string        `json:"driverCar,omitempty"`
	CreatedAt         int64         `json:"createdAt"`
	ChatHistory       []ChatMessage `json:"chatHistory"`
}

func Flatten(t Trip) TripRequest {
	d := t.Details()
	out := TripRequest{
		ID:              d.ID,
		PassengerName:   d.PassengerName,
		PassengerPhone:  d.PassengerPhone,
		PickupLocation:  d.PickupLocation,
		DropoffLocation: d.DropoffLocation,
		Time:            d.Time,
		Passengers:      d.Passengers,
		Notes:           d.Notes,
		Status:          t.Status(),
		CreatedAt:       d.CreatedAt.UnixMilli(),
		ChatHistory:     append([]ChatMessage{}, d.ChatHistory...),
	}
	if d.Estimate != nil {
		out.EstimatedPrice = d.Estimate.PriceRange
		out.EstimatedDuration = d.Estimate.Duration
		out.EstimatedDistance = d.Estimate.Distance
	}
	if a, ok := AssignmentOf(t); ok {
		out.DriverID = a.DriverID
		out.DriverName = a.DriverName
		out.DriverPhoto = a.DriverPhoto
		out.DriverCar = a.DriverCar
	}
	return out
}
