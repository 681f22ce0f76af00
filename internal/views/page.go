// Package views turns store snapshots and per-session state into the view
// models a client renders: what each screen shows and which controls are
// live. Nothing here mutates state.
package views

import (
	"fmt"
	"strings"
	"time"

	"github.com/lozlokesh-lgtm/taxi/internal/models"
)

type Screen string

const (
	ScreenLanding            Screen = "LANDING"
	ScreenDriverRegistration Screen = "DRIVER_REGISTRATION"
	ScreenDriverDashboard    Screen = "DRIVER_DASHBOARD"
	ScreenPassengerRequest   Screen = "PASSENGER_REQUEST"
	ScreenCommunication      Screen = "COMMUNICATION"
)

type Mode string

const (
	ModeChat Mode = "CHAT"
	ModeCall Mode = "CALL"
)

func (m Mode) Valid() bool { return m == ModeChat || m == ModeCall }

// Page is the whole rendered session. Exactly one of the screen payloads is set.
type Page struct {
	Screen        Screen         `json:"screen"`
	Role          models.Role    `json:"role"`
	Title         string         `json:"title"`
	ShowBack      bool           `json:"showBack"`
	Landing       *Landing       `json:"landing,omitempty"`
	Registration  *Registration  `json:"registration,omitempty"`
	Dashboard     *Dashboard     `json:"dashboard,omitempty"`
	Passenger     *Passenger     `json:"passenger,omitempty"`
	Communication *Communication `json:"communication,omitempty"`
}

type Landing struct {
	AppName string        `json:"appName"`
	Tagline string        `json:"tagline"`
	Roles   []models.Role `json:"roles"`
}

func LandingPage() Page {
	return Page{
		Screen: ScreenLanding,
		Role:   models.RoleNone,
		Title:  "TealCab",
		Landing: &Landing{
			AppName: "TealCab",
			Tagline: "Your modern journey starts here. Safe, fast, and reliable rides.",
			Roles:   []models.Role{models.RolePassenger, models.RoleDriver},
		},
	}
}

// DriverForm is the registration form state.
type DriverForm struct {
	Name        string `json:"name"`
	Phone       string `json:"phone"`
	CarModel    string `json:"carModel"`
	CarColor    string `json:"carColor"`
	PlateNumber string `json:"plateNumber"`
}

// Missing lists the required fields left blank.
func (f DriverForm) Missing() []string {
	return missing(map[string]string{
		"name": f.Name, "phone": f.Phone, "carModel": f.CarModel, "carColor": f.CarColor, "plateNumber": f.PlateNumber,
	}, "name", "phone", "carModel", "carColor", "plateNumber")
}

type Registration struct {
	Fields []string `json:"fields"`
}

func RegistrationPage() Page {
	return Page{
		Screen:       ScreenDriverRegistration,
		Role:         models.RoleDriver,
		Title:        "Driver Registration",
		ShowBack:     true,
		Registration: &Registration{Fields: []string{"name", "phone", "carModel", "carColor", "plateNumber"}},
	}
}

func missing(values map[string]string, order ...string) []string {
	var out []string
	for _, k := range order {
		if strings.TrimSpace(values[k]) == "" {
			out = append(out, k)
		}
	}
	return out
}

// clock renders a timestamp as HH:MM in the server's zone.
func clock(t time.Time) string { return t.Local().Format("15:04") }

// CallClock renders a call duration as mm:ss.
func CallClock(seconds int) string {
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}
