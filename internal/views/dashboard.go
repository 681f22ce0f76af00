package views

import (
	"sort"
	"strings"

	"github.com/lozlokesh-lgtm/taxi/internal/models"
)

type Badge string

const (
	BadgeAcceptedByYou Badge = "ACCEPTED BY YOU"
	BadgeTaken         Badge = "TAKEN"
	BadgeNewRequest    Badge = "NEW REQUEST"
)

const (
	noticeUnavailable = "Trip no longer available"
	emptyBoard        = "No trip requests available right now."
)

type TripCard struct {
	ID                string            `json:"id"`
	Status            models.TripStatus `json:"status"`
	CreatedAt         string            `json:"createdAt"`
	PassengerName     string            `json:"passengerName"`
	PassengerInitial  string            `json:"passengerInitial"`
	PassengerPhone    string            `json:"passengerPhone"`
	Pickup            string            `json:"pickup"`
	Dropoff           string            `json:"dropoff"`
	Time              string            `json:"time"`
	Passengers        int               `json:"passengers"`
	Notes             string            `json:"notes,omitempty"`
	EstimatedPrice    string            `json:"estimatedPrice,omitempty"`
	EstimatedDuration string            `json:"estimatedDuration,omitempty"`
	EstimatedDistance string            `json:"estimatedDistance,omitempty"`
	Badge             Badge             `json:"badge"`
	CanAccept         bool              `json:"canAccept"`
	CanCall           bool              `json:"canCall"`
	CanMessage        bool              `json:"canMessage"`
	Unread            bool              `json:"unread"`
	Notice            string            `json:"notice,omitempty"`
}

type Dashboard struct {
	DriverName   string     `json:"driverName"`
	DriverPhoto  string     `json:"driverPhoto"`
	Status       string     `json:"status"`
	Trips        []TripCard `json:"trips"`
	Empty        bool       `json:"empty"`
	EmptyMessage string     `json:"emptyMessage,omitempty"`
}

// SortForDashboard puts pending trips first, newest first inside each
// partition. The sort is stable, so equal timestamps keep store order.
func SortForDashboard(trips []models.Trip) []models.Trip {
	out := append([]models.Trip(nil), trips...)
	sort.SliceStable(out, func(i, j int) bool {
		pi, pj := out[i].Status() == models.StatusPending, out[j].Status() == models.StatusPending
		if pi != pj {
			return pi
		}
		return out[i].Details().CreatedAt.After(out[j].Details().CreatedAt)
	})
	return out
}

func DashboardPage(driver models.Driver, trips []models.Trip) Page {
	sorted := SortForDashboard(trips)
	d := &Dashboard{
		DriverName:  driver.Name,
		DriverPhoto: driver.PhotoURL,
		Status:      "Online • " + driver.CarModel + " (" + driver.PlateNumber + ")",
		Trips:       make([]TripCard, 0, len(sorted)),
	}
	for _, t := range sorted {
		d.Trips = append(d.Trips, card(driver.ID, t))
	}
	if len(d.Trips) == 0 {
		d.Empty = true
		d.EmptyMessage = emptyBoard
	}
	return Page{
		Screen:    ScreenDriverDashboard,
		Role:      models.RoleDriver,
		Title:     "Driver Dashboard",
		ShowBack:  true,
		Dashboard: d,
	}
}

func card(driverID string, t models.Trip) TripCard {
	det := t.Details()
	c := TripCard{
		ID:             det.ID,
		Status:         t.Status(),
		CreatedAt:      clock(det.CreatedAt),
		PassengerName:  det.PassengerName,
		PassengerPhone: det.PassengerPhone,
		Pickup:         det.PickupLocation,
		Dropoff:        det.DropoffLocation,
		Time:           det.Time,
		Passengers:     det.Passengers,
		Notes:          det.Notes,
	}
	if r := []rune(strings.TrimSpace(det.PassengerName)); len(r) > 0 {
		c.PassengerInitial = string(r[0])
	}
	if e := det.Estimate; e != nil {
		c.EstimatedPrice, c.EstimatedDuration, c.EstimatedDistance = e.PriceRange, e.Duration, e.Distance
	}

	a, assigned := models.AssignmentOf(t)
	switch {
	case t.Status() == models.StatusAccepted && assigned && a.DriverID == driverID:
		c.Badge = BadgeAcceptedByYou
		c.CanCall = true
		c.CanMessage = true
		c.Unread = len(det.ChatHistory) > 0
	case t.Status() == models.StatusPending:
		c.Badge = BadgeNewRequest
		c.CanAccept = true
	default:
		c.Badge = BadgeTaken
		c.Notice = noticeUnavailable
	}
	return c
}
