package booking

import (
	"context"
	"strings"
	"time"

	"github.com/BearBump/WeighBox/internal/integrations/sadregistry"
	"github.com/BearBump/WeighBox/internal/models"
)

// Validator checks that every SAD referenced by a booking is registered.
// The check is not repeated at write time; a declaration withdrawn in
// between is still accepted.
type Validator struct {
	registry sadregistry.Client
	timeout  time.Duration
}

func NewValidator(registry sadregistry.Client, timeout time.Duration) *Validator {
	return &Validator{registry: registry, timeout: timeout}
}

// Validate deduplicates sadNos, looks them up in one batch and fails with
// *PrerequisiteMissingError listing every number that is not registered,
// in request order.
func (v *Validator) Validate(ctx context.Context, sadNos []string) error {
	requested := dedupe(sadNos)
	if len(requested) == 0 {
		return nil
	}

	cctx, cancel := withCallTimeout(ctx, v.timeout)
	defer cancel()
	present, err := v.registry.ExistingSADs(cctx, requested)
	if err != nil {
		return &TransientStoreError{Op: "lookup sad declarations", Err: err}
	}

	have := make(map[string]struct{}, len(present))
	for _, no := range present {
		have[no] = struct{}{}
	}
	var missing []string
	for _, no := range requested {
		if _, ok := have[no]; !ok {
			missing = append(missing, no)
		}
	}
	if len(missing) > 0 {
		return &PrerequisiteMissingError{Missing: missing}
	}
	return nil
}

// ValidatePayload enforces the structural booking rules. It touches no store.
func ValidatePayload(in models.BookingInput) error {
	if strings.TrimSpace(in.AgentTIN) == "" {
		return invalid("agentTin is required")
	}
	if strings.TrimSpace(in.WarehouseLocation) == "" {
		return invalid("warehouseLocation is required")
	}
	if in.PickupDate.IsZero() {
		return invalid("pickupDate is required")
	}
	if strings.TrimSpace(in.TruckNumber) == "" {
		return invalid("truckNumber is required")
	}
	if strings.TrimSpace(in.DriverName) == "" {
		return invalid("driverName is required")
	}
	if len(in.T1s) == 0 {
		return invalid("at least one T1 record is required")
	}
	if !in.Consolidated && len(in.T1s) > 1 {
		return invalid("non-consolidated booking takes exactly one T1 record, got %d", len(in.T1s))
	}

	seenPacking := make(map[string]struct{}, len(in.T1s))
	for i, t := range in.T1s {
		if strings.TrimSpace(t.SADNo) == "" {
			return invalid("t1s[%d]: sadNo is required", i)
		}
		if !models.IsKnownPackingType(t.PackingType) {
			return invalid("t1s[%d]: unknown packing type %q", i, t.PackingType)
		}
		if t.PackingType == models.PackingTypeContainer && strings.TrimSpace(t.ContainerNo) == "" {
			return invalid("t1s[%d]: containerNo is required for container packing", i)
		}
		if t.PackingType != models.PackingTypeContainer && t.ContainerNo != "" {
			return invalid("t1s[%d]: containerNo is only allowed for container packing", i)
		}
		if _, dup := seenPacking[t.PackingType]; dup {
			return invalid("t1s[%d]: packing type %q is already used in this booking", i, t.PackingType)
		}
		seenPacking[t.PackingType] = struct{}{}
	}

	if in.Preview != nil && !in.Preview.IsZero() {
		if in.Preview.AppointmentNumber == "" || in.Preview.WeighbridgeNumber == "" {
			return invalid("preview must carry both numbers")
		}
	}
	return nil
}

func sadNosOf(t1s []models.T1Input) []string {
	out := make([]string, 0, len(t1s))
	for _, t := range t1s {
		out = append(out, strings.TrimSpace(t.SADNo))
	}
	return out
}

func dedupe(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
