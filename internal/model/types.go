package model

import (
	"fmt"
	"strings"
	"time"
)

// Clock is a time of day expressed as minutes since midnight.
// It marshals as "HH:MM:SS" and accepts "HH:MM" or "HH:MM:SS" on input.
type Clock int

func NewClock(hour, minute int) Clock { return Clock(hour*60 + minute) }

// ParseClock parses "HH:MM" or "HH:MM:SS". Seconds are discarded.
func ParseClock(s string) (Clock, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"15:04:05", "15:04"} {
		if t, err := time.Parse(layout, s); err == nil {
			return Clock(t.Hour()*60 + t.Minute()), nil
		}
	}
	return 0, fmt.Errorf("invalid time of day: %q", s)
}

func (c Clock) Hour() int   { return int(c) / 60 }
func (c Clock) Minute() int { return int(c) % 60 }

// Add returns the clock shifted by n minutes.
func (c Clock) Add(n int) Clock { return c + Clock(n) }

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d:00", c.Hour()%24, c.Minute())
}

func (c Clock) MarshalJSON() ([]byte, error) {
	return []byte(`"` + c.String() + `"`), nil
}

func (c *Clock) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*c = 0
		return nil
	}
	v, err := ParseClock(s)
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// Location is an immutable named coordinate.
type Location struct {
	Name string  `json:"name"`
	Lat  float64 `json:"lat"`
	Lng  float64 `json:"lng"`
}

func (l Location) Validate() error {
	if l.Lat < -90 || l.Lat > 90 {
		return fmt.Errorf("latitude %v out of range [-90,90]", l.Lat)
	}
	if l.Lng < -180 || l.Lng > 180 {
		return fmt.Errorf("longitude %v out of range [-180,180]", l.Lng)
	}
	return nil
}

// TimeWindow is a preferred pickup interval. End must be after Start.
type TimeWindow struct {
	Start Clock `json:"start"`
	End   Clock `json:"end"`
}

func (w TimeWindow) Validate() error {
	if w.End <= w.Start {
		return fmt.Errorf("time window end %s must be after start %s", w.End, w.Start)
	}
	return nil
}

type Guest struct {
	ID                  string      `json:"id"`
	Name                string      `json:"name"`
	HotelName           string      `json:"hotelName"`
	PickupLocation      Location    `json:"pickupLocation"`
	NumAdults           int         `json:"numAdults"`
	NumChildren         int         `json:"numChildren"`
	PreferredTimeWindow *TimeWindow `json:"preferredTimeWindow,omitempty"`
	SpecialRequirements []string    `json:"specialRequirements,omitempty"`
}

// TotalPassengers is the demand a guest contributes against vehicle capacity.
func (g Guest) TotalPassengers() int { return g.NumAdults + g.NumChildren }

type VehicleType string

const (
	VehicleSedan   VehicleType = "sedan"
	VehicleVan     VehicleType = "van"
	VehicleMinibus VehicleType = "minibus"
)

type Vehicle struct {
	ID               string      `json:"id"`
	Name             string      `json:"name"`
	CapacityAdults   int         `json:"capacityAdults"`
	CapacityChildren int         `json:"capacityChildren"`
	DriverName       string      `json:"driverName,omitempty"`
	VehicleType      VehicleType `json:"vehicleType,omitempty"`
	Equipment        []string    `json:"equipment,omitempty"`
}

func (v Vehicle) TotalCapacity() int { return v.CapacityAdults + v.CapacityChildren }

type Strategy string

const (
	StrategySafety     Strategy = "safety"
	StrategyEfficiency Strategy = "efficiency"
	StrategyBalanced   Strategy = "balanced"
)

// OptimizationConstraints are soft planning knobs carried on the request.
type OptimizationConstraints struct {
	MaxPickupTimeMinutes int      `json:"maxPickupTimeMinutes,omitempty"`
	BufferTimeMinutes    int      `json:"bufferTimeMinutes,omitempty"`
	WeatherConsideration bool     `json:"weatherConsideration,omitempty"`
	MaxDistanceKM        *float64 `json:"maxDistanceKm,omitempty"`
	PriorityHotels       []string `json:"priorityHotels,omitempty"`
}

type OptimizationRequest struct {
	TourID              string                  `json:"tourId,omitempty"`
	TourDate            string                  `json:"tourDate"`
	ActivityType        string                  `json:"activityType"`
	Destination         Location                `json:"destination"`
	ParticipantIDs      []string                `json:"participantIds"`
	AvailableVehicleIDs []string                `json:"availableVehicleIds"`
	Constraints         OptimizationConstraints `json:"constraints"`
	Strategy            Strategy                `json:"optimizationStrategy,omitempty"`
	DepartureTime       Clock                   `json:"departureTime"`
}

// RouteSegment is one leg of a vehicle route. GuestID is empty on the
// final leg into the shared destination.
type RouteSegment struct {
	FromLocation    Location `json:"fromLocation"`
	ToLocation      Location `json:"toLocation"`
	GuestID         string   `json:"guestId,omitempty"`
	DistanceKM      float64  `json:"distanceKm"`
	DurationMinutes int      `json:"durationMinutes"`
	ArrivalTime     Clock    `json:"arrivalTime"`
	DepartureTime   Clock    `json:"departureTime"`
}

type VehicleRoute struct {
	VehicleID            string         `json:"vehicleId"`
	VehicleName          string         `json:"vehicleName"`
	RouteSegments        []RouteSegment `json:"routeSegments"`
	AssignedGuests       []string       `json:"assignedGuests"`
	TotalDistanceKM      float64        `json:"totalDistanceKm"`
	TotalDurationMinutes int            `json:"totalDurationMinutes"`
	EfficiencyScore      float64        `json:"efficiencyScore"`
	VehicleUtilization   float64        `json:"vehicleUtilization"`
}

type ResultStatus string

const (
	ResultSuccess ResultStatus = "success"
	ResultPartial ResultStatus = "partial"
	ResultFailed  ResultStatus = "failed"
)

type OptimizationResult struct {
	TourID                 string         `json:"tourId"`
	Status                 ResultStatus   `json:"status"`
	TotalVehiclesUsed      int            `json:"totalVehiclesUsed"`
	Routes                 []VehicleRoute `json:"routes"`
	TotalDistanceKM        float64        `json:"totalDistanceKm"`
	TotalTimeMinutes       int            `json:"totalTimeMinutes"`
	AverageEfficiencyScore float64        `json:"averageEfficiencyScore"`
	OptimizationMetrics    map[string]any `json:"optimizationMetrics"`
	Warnings               []string       `json:"warnings"`
	ComputationTimeSeconds float64        `json:"computationTimeSeconds"`
}

type JobState string

const (
	JobPending    JobState = "pending"
	JobProcessing JobState = "processing"
	JobCompleted  JobState = "completed"
	JobFailed     JobState = "failed"
)

// OptimizationJobStatus tracks one background optimization run. Created at
// submission and mutated in place by the running job; never deleted within
// the process lifetime.
type OptimizationJobStatus struct {
	JobID              string              `json:"jobId"`
	Status             JobState            `json:"status"`
	CreatedAt          time.Time           `json:"createdAt"`
	UpdatedAt          time.Time           `json:"updatedAt"`
	ProgressPercentage int                 `json:"progressPercentage"`
	CurrentStep        string              `json:"currentStep,omitempty"`
	Result             *OptimizationResult `json:"result,omitempty"`
	ErrorMessage       string              `json:"errorMessage,omitempty"`
}

type TourStatus string

const (
	TourPlanned   TourStatus = "planned"
	TourOptimized TourStatus = "optimized"
	TourDeparted  TourStatus = "departed"
)

// Tour groups participants, vehicles and a destination for one date.
type Tour struct {
	ID             string     `json:"id"`
	TourDate       string     `json:"tourDate"`
	ActivityType   string     `json:"activityType"`
	Destination    Location   `json:"destination"`
	ParticipantIDs []string   `json:"participantIds"`
	VehicleIDs     []string   `json:"vehicleIds"`
	DepartureTime  Clock      `json:"departureTime"`
	Status         TourStatus `json:"status"`
}

// SubscriptionRequest registers a webhook endpoint for job events.
type SubscriptionRequest struct {
	URL    string   `json:"url"`
	Events []string `json:"events"`
	Secret string   `json:"secret"`
}

type Subscription struct {
	ID     string   `json:"id"`
	URL    string   `json:"url"`
	Events []string `json:"events"`
	Secret string   `json:"secret,omitempty"`
}
