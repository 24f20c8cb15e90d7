package domain

// RegistrationState is the lifecycle state of a citizen record.
type RegistrationState string

const (
	StateUnregistered RegistrationState = "unregistered"
	StateRegistered   RegistrationState = "registered"
	StateDeactivated  RegistrationState = "deactivated"
)

// Citizen is a person bound to exactly one channel handle. Citizens are never
// hard-deleted; deactivation only flips RegistrationState.
type Citizen struct {
	ID                string
	ChannelHandle     string
	DisplayName       string
	Phone             string
	Location          *Location
	RegistrationState RegistrationState
	CreatedAt         string
	UpdatedAt         string
}

// Profile carries the optional fields supplied when resolving a citizen.
// Empty values never overwrite stored ones.
type Profile struct {
	DisplayName string
	Phone       string
}

// Location is a WGS84 coordinate pair.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}
