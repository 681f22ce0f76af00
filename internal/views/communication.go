package views

import (
	"net/url"

	"github.com/lozlokesh-lgtm/taxi/internal/models"
)

type CallPhase string

const (
	CallConnecting CallPhase = "connecting"
	CallActive     CallPhase = "active"
)

type Call struct {
	Phase           CallPhase `json:"phase"`
	DurationSeconds int       `json:"durationSeconds"`
	Label           string    `json:"label"`
	Muted           bool      `json:"muted"`
}

type MessageView struct {
	ID         string      `json:"id"`
	SenderRole models.Role `json:"senderRole"`
	Text       string      `json:"text"`
	Time       string      `json:"time"`
	Mine       bool        `json:"mine"`
}

type Communication struct {
	TripID          string            `json:"tripId"`
	Mode            Mode              `json:"mode"`
	TripStatus      models.TripStatus `json:"tripStatus"`
	OtherPartyName  string            `json:"otherPartyName"`
	OtherPartyRole  string            `json:"otherPartyRole"`
	OtherPartyPhoto string            `json:"otherPartyPhoto"`
	Pickup          string            `json:"pickup"`
	Dropoff         string            `json:"dropoff"`
	Messages        []MessageView     `json:"messages"`
	Suggestions     []string          `json:"suggestions"`
	Call            *Call             `json:"call,omitempty"`
}

// CommunicationInput carries the overlay state owned by the session.
type CommunicationInput struct {
	Trip        models.Trip
	Role        models.Role
	Mode        Mode
	Suggestions []string
	Call        *Call // set in CALL mode
}

func CommunicationPage(in CommunicationInput) Page {
	det := in.Trip.Details()
	a, _ := models.AssignmentOf(in.Trip)
	c := &Communication{
		TripID:      det.ID,
		Mode:        in.Mode,
		TripStatus:  in.Trip.Status(),
		Pickup:      det.PickupLocation,
		Dropoff:     det.DropoffLocation,
		Messages:    make([]MessageView, 0, len(det.ChatHistory)),
		Suggestions: append([]string{}, in.Suggestions...),
	}
	if in.Role == models.RoleDriver {
		c.OtherPartyName = det.PassengerName
		c.OtherPartyRole = "Passenger"
		c.OtherPartyPhoto = "https://ui-avatars.com/api/?name=" + url.QueryEscape(det.PassengerName) + "&background=random"
	} else {
		c.OtherPartyName = orDefault(a.DriverName, "Driver")
		c.OtherPartyRole = "Driver"
		c.OtherPartyPhoto = orDefault(a.DriverPhoto, "https://via.placeholder.com/150")
	}
	for _, m := range det.ChatHistory {
		c.Messages = append(c.Messages, MessageView{
			ID:         m.ID,
			SenderRole: m.SenderRole,
			Text:       m.Text,
			Time:       clock(m.Timestamp),
			Mine:       m.SenderRole == in.Role,
		})
	}
	if in.Mode == ModeCall && in.Call != nil {
		call := *in.Call
		c.Call = &call
	}
	return Page{
		Screen:        ScreenCommunication,
		Role:          in.Role,
		Title:         c.OtherPartyName,
		ShowBack:      true,
		Communication: c,
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
