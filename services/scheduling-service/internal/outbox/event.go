package outbox

// Event is the domain event envelope written to the outbox table.
// The Kafka topic name equals EventType (event per topic).
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// Appointment lifecycle event types. Everything downstream (reminders,
// analytics) hangs off these topics.
const (
	EventAppointmentRequested = "scheduling.appointment.requested.v1"
	EventAppointmentDecided   = "scheduling.appointment.decided.v1"
	EventAppointmentReverted  = "scheduling.appointment.reverted.v1"
	EventAppointmentCancelled = "scheduling.appointment.cancelled.v1"
	EventAppointmentCompleted = "scheduling.appointment.completed.v1"
	EventAppointmentOngoing   = "scheduling.appointment.ongoing.v1"
)
