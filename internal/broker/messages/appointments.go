package messages

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventAppointmentBooked      = "appointment.booked"
	EventAppointmentCompensated = "appointment.compensated"
)

type AppointmentBooked struct {
	EventID           uuid.UUID `json:"event_id"`
	AppointmentID     uint64    `json:"appointment_id"`
	AppointmentNumber string    `json:"appointment_number"`
	WeighbridgeNumber string    `json:"weighbridge_number"`
	AgentTIN          string    `json:"agent_tin"`
	PickupDate        string    `json:"pickup_date"`
	TotalT1s          int       `json:"total_t1s"`
	SADNos            []string  `json:"sad_nos"`
	CreatedBy         uuid.UUID `json:"created_by"`
	BookedAt          time.Time `json:"booked_at"`
}

// AppointmentCompensated is emitted when a parent row without line items is
// removed, either inline after a failed child write or by the sweeper.
type AppointmentCompensated struct {
	EventID           uuid.UUID `json:"event_id"`
	AppointmentID     uint64    `json:"appointment_id"`
	AppointmentNumber string    `json:"appointment_number"`
	WeighbridgeNumber string    `json:"weighbridge_number"`
	Reason            string    `json:"reason"`
	CompensatedAt     time.Time `json:"compensated_at"`
}
