package bookings_api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/BearBump/WeighBox/internal/models"
	"github.com/BearBump/WeighBox/internal/services/booking"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const actorHeader = "X-Actor-ID"

type Service interface {
	PreviewIdentifiers(ctx context.Context, pickupDate time.Time) (models.IdentifierPair, error)
	Book(ctx context.Context, in models.BookingInput) (*models.Appointment, error)
	GetAppointment(ctx context.Context, number string) (*models.Appointment, error)
	CompleteAppointment(ctx context.Context, number string) (*models.Appointment, error)
	ReopenAppointment(ctx context.Context, number string) (*models.Appointment, error)
	DeleteAppointment(ctx context.Context, number string, actor uuid.UUID) error
}

type BookingsAPI struct {
	svc Service
}

func New(svc Service) *BookingsAPI {
	return &BookingsAPI{svc: svc}
}

// Routes mounts the appointment endpoints under /v1/appointments.
func (a *BookingsAPI) Routes(r chi.Router) {
	r.Route("/v1/appointments", func(r chi.Router) {
		r.Post("/preview", a.PreviewIdentifiers)
		r.Post("/", a.Book)
		r.Get("/{number}", a.GetAppointment)
		r.Post("/{number}/complete", a.CompleteAppointment)
		r.Post("/{number}/reopen", a.ReopenAppointment)
		r.Delete("/{number}", a.DeleteAppointment)
	})
}

type previewRequest struct {
	PickupDate string `json:"pickupDate"`
}

type identifierPair struct {
	AppointmentNumber string `json:"appointmentNumber"`
	WeighbridgeNumber string `json:"weighbridgeNumber"`
}

type t1Input struct {
	SADNo       string `json:"sadNo"`
	PackingType string `json:"packingType"`
	ContainerNo string `json:"containerNo,omitempty"`
}

type bookRequest struct {
	AgentTIN          string          `json:"agentTin"`
	AgentName         string          `json:"agentName"`
	WarehouseLocation string          `json:"warehouseLocation"`
	PickupDate        string          `json:"pickupDate"`
	Consolidated      bool            `json:"consolidated"`
	TruckNumber       string          `json:"truckNumber"`
	DriverName        string          `json:"driverName"`
	DriverLicenseNo   string          `json:"driverLicenseNo"`
	T1s               []t1Input       `json:"t1s"`
	Preview           *identifierPair `json:"preview,omitempty"`
}

type t1Record struct {
	ID          uint64  `json:"id"`
	SADNo       string  `json:"sadNo"`
	PackingType string  `json:"packingType"`
	ContainerNo *string `json:"containerNo,omitempty"`
}

type appointment struct {
	ID                uint64     `json:"id"`
	AppointmentNumber string     `json:"appointmentNumber"`
	WeighbridgeNumber string     `json:"weighbridgeNumber"`
	AgentTIN          string     `json:"agentTin"`
	AgentName         string     `json:"agentName,omitempty"`
	WarehouseLocation string     `json:"warehouseLocation"`
	PickupDate        string     `json:"pickupDate"`
	Consolidated      string     `json:"consolidated"`
	TruckNumber       string     `json:"truckNumber"`
	DriverName        string     `json:"driverName"`
	DriverLicenseNo   string     `json:"driverLicenseNo,omitempty"`
	TotalT1s          int        `json:"totalT1s"`
	Status            string     `json:"status"`
	CreatedBy         string     `json:"createdBy"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
	T1s               []t1Record `json:"t1s"`
}

type errorBody struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Missing []string `json:"missing,omitempty"`
}

func (a *BookingsAPI) PreviewIdentifiers(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	day, err := parseDate(req.PickupDate)
	if err != nil {
		writeError(w, err)
		return
	}
	pair, err := a.svc.PreviewIdentifiers(r.Context(), day)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, identifierPair{
		AppointmentNumber: pair.AppointmentNumber,
		WeighbridgeNumber: pair.WeighbridgeNumber,
	})
}

func (a *BookingsAPI) Book(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req bookRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	day, err := parseDate(req.PickupDate)
	if err != nil {
		writeError(w, err)
		return
	}

	in := models.BookingInput{
		AgentTIN:          req.AgentTIN,
		AgentName:         req.AgentName,
		WarehouseLocation: req.WarehouseLocation,
		PickupDate:        day,
		Consolidated:      req.Consolidated,
		TruckNumber:       req.TruckNumber,
		DriverName:        req.DriverName,
		DriverLicenseNo:   req.DriverLicenseNo,
		CreatedBy:         actor,
	}
	for _, t := range req.T1s {
		in.T1s = append(in.T1s, models.T1Input{SADNo: t.SADNo, PackingType: t.PackingType, ContainerNo: t.ContainerNo})
	}
	if req.Preview != nil {
		in.Preview = &models.IdentifierPair{
			AppointmentNumber: req.Preview.AppointmentNumber,
			WeighbridgeNumber: req.Preview.WeighbridgeNumber,
		}
	}

	appt, err := a.svc.Book(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAppointment(appt))
}

func (a *BookingsAPI) GetAppointment(w http.ResponseWriter, r *http.Request) {
	appt, err := a.svc.GetAppointment(r.Context(), chi.URLParam(r, "number"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointment(appt))
}

func (a *BookingsAPI) CompleteAppointment(w http.ResponseWriter, r *http.Request) {
	appt, err := a.svc.CompleteAppointment(r.Context(), chi.URLParam(r, "number"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointment(appt))
}

func (a *BookingsAPI) ReopenAppointment(w http.ResponseWriter, r *http.Request) {
	appt, err := a.svc.ReopenAppointment(r.Context(), chi.URLParam(r, "number"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointment(appt))
}

func (a *BookingsAPI) DeleteAppointment(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		writeError(w, booking.ErrForbidden)
		return
	}
	if err := a.svc.DeleteAppointment(r.Context(), chi.URLParam(r, "number"), actor); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// StatusFor maps a booking error code onto an HTTP status.
func StatusFor(code string) int {
	switch code {
	case booking.CodeInvalidPayload, booking.CodePrerequisiteMissing:
		return http.StatusUnprocessableEntity
	case booking.CodeIdentifierExhaustion, booking.CodeCompleted:
		return http.StatusConflict
	case booking.CodeNotFound:
		return http.StatusNotFound
	case booking.CodeForbidden:
		return http.StatusForbidden
	case booking.CodeRateLimited:
		return http.StatusTooManyRequests
	case booking.CodeChildWriteFailed, booking.CodeTransientStore:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := booking.Classify(err)
	status := StatusFor(code)
	body := errorBody{Code: code, Message: err.Error()}

	var missing *booking.PrerequisiteMissingError
	if errors.As(err, &missing) {
		body.Missing = missing.Missing
	}
	if status == http.StatusInternalServerError {
		slog.Error("booking api request failed", "error", err.Error())
		body.Message = "internal error"
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return &booking.InvalidPayloadError{Reason: "malformed json: " + err.Error()}
	}
	return nil
}

func actorFrom(r *http.Request) (uuid.UUID, error) {
	raw := strings.TrimSpace(r.Header.Get(actorHeader))
	if raw == "" {
		return uuid.Nil, &booking.InvalidPayloadError{Reason: actorHeader + " header is required"}
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, &booking.InvalidPayloadError{Reason: actorHeader + " must be a uuid"}
	}
	return id, nil
}

// parseDate accepts a calendar date or a full RFC 3339 timestamp. A timestamp
// keeps its own offset so the calendar day is the one the caller wrote.
func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, &booking.InvalidPayloadError{Reason: "pickupDate is required"}
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, &booking.InvalidPayloadError{Reason: "pickupDate must be YYYY-MM-DD"}
	}
	return t, nil
}

func toAppointment(a *models.Appointment) appointment {
	out := appointment{
		ID:                a.ID,
		AppointmentNumber: a.AppointmentNumber,
		WeighbridgeNumber: a.WeighbridgeNumber,
		AgentTIN:          a.AgentTIN,
		AgentName:         a.AgentName,
		WarehouseLocation: a.WarehouseLocation,
		PickupDate:        a.PickupDate.Format(time.DateOnly),
		Consolidated:      models.ConsolidatedFlag(a.Consolidated),
		TruckNumber:       a.TruckNumber,
		DriverName:        a.DriverName,
		DriverLicenseNo:   a.DriverLicenseNo,
		TotalT1s:          a.TotalT1s,
		Status:            a.Status,
		CreatedBy:         a.CreatedBy.String(),
		CreatedAt:         a.CreatedAt,
		UpdatedAt:         a.UpdatedAt,
		T1s:               make([]t1Record, 0, len(a.T1s)),
	}
	for _, t := range a.T1s {
		out.T1s = append(out.T1s, t1Record{
			ID:          t.ID,
			SADNo:       t.SADNo,
			PackingType: t.PackingType,
			ContainerNo: t.ContainerNo,
		})
	}
	return out
}
