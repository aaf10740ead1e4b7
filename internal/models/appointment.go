package models

import (
	"time"

	"github.com/google/uuid"
)

// Appointment statuses. "Imported" is only ever read from old rows.
const (
	AppointmentStatusPosted    = "Posted"
	AppointmentStatusCompleted = "Completed"

	appointmentStatusImported = "Imported"
)

const (
	PackingTypeContainer  = "container"
	PackingTypeBulk       = "bulk"
	PackingTypeLooseCargo = "loose cargo"
)

type Appointment struct {
	ID                uint64
	AppointmentNumber string
	WeighbridgeNumber string
	AgentTIN          string
	AgentName         string
	WarehouseLocation string
	PickupDate        time.Time
	Consolidated      bool
	TruckNumber       string
	DriverName        string
	DriverLicenseNo   string
	TotalT1s          int
	Status            string
	CreatedBy         uuid.UUID
	CreatedAt         time.Time
	UpdatedAt         time.Time

	T1s []*T1Record
}

type T1Record struct {
	ID            uint64
	AppointmentID uint64
	SADNo         string
	PackingType   string
	ContainerNo   *string
	CreatedAt     time.Time
}

type SADDeclaration struct {
	SADNo        string
	RegisteredAt time.Time
}

type IdentifierPair struct {
	AppointmentNumber string
	WeighbridgeNumber string
}

func (p IdentifierPair) IsZero() bool {
	return p.AppointmentNumber == "" && p.WeighbridgeNumber == ""
}

type T1Input struct {
	SADNo       string
	PackingType string
	ContainerNo string
}

// BookingInput is a booking payload as submitted by the booking form.
// Preview carries the identifier pair already shown to the user, if any.
type BookingInput struct {
	AgentTIN          string
	AgentName         string
	WarehouseLocation string
	PickupDate        time.Time
	Consolidated      bool
	TruckNumber       string
	DriverName        string
	DriverLicenseNo   string
	CreatedBy         uuid.UUID

	T1s []T1Input

	Preview *IdentifierPair
}

// NormalizeStatus maps legacy stored statuses onto the current ones.
func NormalizeStatus(s string) string {
	if s == appointmentStatusImported || s == "" {
		return AppointmentStatusPosted
	}
	return s
}

func IsKnownPackingType(s string) bool {
	switch s {
	case PackingTypeContainer, PackingTypeBulk, PackingTypeLooseCargo:
		return true
	default:
		return false
	}
}

// PickupDay truncates t to a UTC calendar date.
func PickupDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ConsolidatedFlag renders the Y/N storage form.
func ConsolidatedFlag(v bool) string {
	if v {
		return "Y"
	}
	return "N"
}
