package models

import (
	"net/url"
	"time"
)

type Role string

const (
	RoleNone      Role = "NONE"
	RoleDriver    Role = "DRIVER"
	RolePassenger Role = "PASSENGER"
)

func (r Role) Valid() bool {
	switch r {
	case RoleNone, RoleDriver, RolePassenger:
		return true
	}
	return false
}

type TripStatus string

const (
	StatusPending   TripStatus = "PENDING"
	StatusAccepted  TripStatus = "ACCEPTED"
	StatusCompleted TripStatus = "COMPLETED"
	StatusCancelled TripStatus = "CANCELLED"
)

type ChatMessage struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"senderId"`
	SenderRole Role      `json:"senderRole"`
	Text       string    `json:"text"`
	Timestamp  time.Time `json:"timestamp"`
}

type Driver struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Phone        string `json:"phone"`
	CarModel     string `json:"carModel"`
	CarColor     string `json:"carColor"`
	PlateNumber  string `json:"plateNumber"`
	PhotoURL     string `json:"photoUrl"`
	IsRegistered bool   `json:"isRegistered"`
}

// Car is the display string stamped on trips the driver accepts.
func (d Driver) Car() string { return d.CarColor + " " + d.CarModel }

// Assignment returns the denormalized driver fields copied onto an accepted trip.
func (d Driver) Assignment() Assignment {
	return Assignment{DriverID: d.ID, DriverName: d.Name, DriverPhoto: d.PhotoURL, DriverCar: d.Car()}
}

// DriverPhotoURL derives the placeholder avatar for a freshly registered driver.
func DriverPhotoURL(name string) string {
	return "https://picsum.photos/seed/" + url.PathEscape(name) + "/200"
}

type TripEstimate struct {
	PriceRange string `json:"priceRange"`
	Duration   string `json:"duration"`
	Distance   string `json:"distance"`
}

// Complete reports whether all three advisory fields were filled in.
func (e TripEstimate) Complete() bool {
	return e.PriceRange != "" && e.Duration != "" && e.Distance != ""
}
