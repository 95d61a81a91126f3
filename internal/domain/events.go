package domain

// Vertical is a marketplace line of business and doubles as a room namespace.
type Vertical string

const (
	VerticalRides   Vertical = "rides"
	VerticalMunch   Vertical = "munch"
	VerticalTables  Vertical = "tables"
	VerticalEvents  Vertical = "events"
	VerticalParking Vertical = "parking"
	VerticalWallet  Vertical = "wallet"
)

// Event names emitted by business services. The gateway treats them as opaque.
const (
	EventOrderUpdated       = "order:updated"
	EventOrderCancelled     = "order:cancelled"
	EventRideRequested      = "ride:requested"
	EventRideAccepted       = "ride:accepted"
	EventRideLocation       = "ride:location"
	EventBookingConfirmed   = "booking:confirmed"
	EventTicketIssued       = "ticket:issued"
	EventParkingSessionEnd  = "parking:session_ended"
	EventShiftScheduled     = "staff:shift_scheduled"
	EventWalletBalance      = "wallet:balance_updated"
	EventNotificationCreate = "notification:created"
)

var knownEvents = map[string]struct{}{
	EventOrderUpdated:       {},
	EventOrderCancelled:     {},
	EventRideRequested:      {},
	EventRideAccepted:       {},
	EventRideLocation:       {},
	EventBookingConfirmed:   {},
	EventTicketIssued:       {},
	EventParkingSessionEnd:  {},
	EventShiftScheduled:     {},
	EventWalletBalance:      {},
	EventNotificationCreate: {},
}

// IsKnownEvent reports whether name is one of the event constants above.
func IsKnownEvent(name string) bool {
	_, ok := knownEvents[name]
	return ok
}
