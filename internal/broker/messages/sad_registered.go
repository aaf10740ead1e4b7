package messages

import "time"

// SADRegistered is published by the customs registry when a declaration
// becomes available for T1 line items.
type SADRegistered struct {
	SADNo        string    `json:"sad_no"`
	RegisteredAt time.Time `json:"registered_at"`
}
