package bookings_api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/BearBump/WeighBox/internal/models"
	"github.com/BearBump/WeighBox/internal/services/booking"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type fakeService struct {
	booked    models.BookingInput
	bookErr   error
	getErr    error
	deletedBy uuid.UUID
	deleteErr error
}

func (f *fakeService) PreviewIdentifiers(ctx context.Context, pickupDate time.Time) (models.IdentifierPair, error) {
	return booking.FormatPair(pickupDate, 4), nil
}

func (f *fakeService) Book(ctx context.Context, in models.BookingInput) (*models.Appointment, error) {
	f.booked = in
	if f.bookErr != nil {
		return nil, f.bookErr
	}
	return sample(in.CreatedBy), nil
}

func (f *fakeService) GetAppointment(ctx context.Context, number string) (*models.Appointment, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	a := sample(uuid.Nil)
	a.AppointmentNumber = number
	return a, nil
}

func (f *fakeService) CompleteAppointment(ctx context.Context, number string) (*models.Appointment, error) {
	a := sample(uuid.Nil)
	a.Status = models.AppointmentStatusCompleted
	return a, nil
}

func (f *fakeService) ReopenAppointment(ctx context.Context, number string) (*models.Appointment, error) {
	return nil, booking.ErrAppointmentCompleted
}

func (f *fakeService) DeleteAppointment(ctx context.Context, number string, actor uuid.UUID) error {
	f.deletedBy = actor
	return f.deleteErr
}

func sample(createdBy uuid.UUID) *models.Appointment {
	container := "MSKU1234567"
	return &models.Appointment{
		ID:                1,
		AppointmentNumber: "2508020004",
		WeighbridgeNumber: "WB250800004",
		AgentTIN:          "C0001234567",
		WarehouseLocation: "Tema Port",
		PickupDate:        time.Date(2025, 8, 2, 0, 0, 0, 0, time.UTC),
		Consolidated:      false,
		TruckNumber:       "GT-1234-25",
		DriverName:        "Kofi Mensah",
		TotalT1s:          1,
		Status:            models.AppointmentStatusPosted,
		CreatedBy:         createdBy,
		T1s: []*models.T1Record{{
			ID: 2, AppointmentID: 1, SADNo: "C100", PackingType: models.PackingTypeContainer, ContainerNo: &container,
		}},
	}
}

func newServer(svc Service) *httptest.Server {
	r := chi.NewRouter()
	New(svc).Routes(r)
	return httptest.NewServer(r)
}

func do(t *testing.T, method, url, body string, header map[string]string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]any{}
	if resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp, out
}

const bookBody = `{
  "agentTin": "C0001234567",
  "warehouseLocation": "Tema Port",
  "pickupDate": "2025-08-02",
  "consolidated": false,
  "truckNumber": "GT-1234-25",
  "driverName": "Kofi Mensah",
  "t1s": [{"sadNo": "C100", "packingType": "container", "containerNo": "MSKU1234567"}],
  "preview": {"appointmentNumber": "2508020004", "weighbridgeNumber": "WB250800004"}
}`

func TestBookingsAPI_Preview(t *testing.T) {
	srv := newServer(&fakeService{})
	defer srv.Close()

	resp, body := do(t, http.MethodPost, srv.URL+"/v1/appointments/preview", `{"pickupDate":"2025-08-02"}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "2508020004", body["appointmentNumber"])
	require.Equal(t, "WB250800004", body["weighbridgeNumber"])

	resp, body = do(t, http.MethodPost, srv.URL+"/v1/appointments/preview", `{"pickupDate":"02/08/2025"}`, nil)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	require.Equal(t, booking.CodeInvalidPayload, body["code"])
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		name string
		in   string
		day  string
	}{
		{name: "date only", in: "2025-08-02", day: "2025-08-02"},
		{name: "utc timestamp", in: "2025-08-02T23:30:00Z", day: "2025-08-02"},
		{name: "positive offset keeps its day", in: "2025-08-02T00:30:00+03:00", day: "2025-08-02"},
		{name: "negative offset keeps its day", in: "2025-08-02T22:00:00-05:00", day: "2025-08-02"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseDate(tt.in)
			require.NoError(t, err)
			require.Equal(t, tt.day, models.PickupDay(got).Format(time.DateOnly))
		})
	}

	_, err := parseDate("  ")
	var invalidErr *booking.InvalidPayloadError
	require.ErrorAs(t, err, &invalidErr)
}

func TestBookingsAPI_Book(t *testing.T) {
	svc := &fakeService{}
	srv := newServer(svc)
	defer srv.Close()
	actor := uuid.New()

	resp, body := do(t, http.MethodPost, srv.URL+"/v1/appointments", bookBody, map[string]string{actorHeader: actor.String()})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Equal(t, "2508020004", body["appointmentNumber"])
	require.Equal(t, "N", body["consolidated"])
	require.Equal(t, "2025-08-02", body["pickupDate"])
	require.Len(t, body["t1s"], 1)

	require.Equal(t, actor, svc.booked.CreatedBy)
	require.NotNil(t, svc.booked.Preview)
	require.Equal(t, "WB250800004", svc.booked.Preview.WeighbridgeNumber)
	require.Equal(t, time.Date(2025, 8, 2, 0, 0, 0, 0, time.UTC), svc.booked.PickupDate)
}

func TestBookingsAPI_BookRequiresActor(t *testing.T) {
	srv := newServer(&fakeService{})
	defer srv.Close()

	resp, body := do(t, http.MethodPost, srv.URL+"/v1/appointments", bookBody, nil)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	require.Contains(t, body["message"], actorHeader)
}

func TestBookingsAPI_BookErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"missing sads", &booking.PrerequisiteMissingError{Missing: []string{"C200"}}, http.StatusUnprocessableEntity, booking.CodePrerequisiteMissing},
		{"exhausted", errors.WithMessagef(booking.ErrIdentifierExhaustion, "after %d attempts", 6), http.StatusConflict, booking.CodeIdentifierExhaustion},
		{"child write", &booking.ChildWriteFailedError{AppointmentNumber: "2508020004", Err: errors.New("boom")}, http.StatusServiceUnavailable, booking.CodeChildWriteFailed},
		{"transient", &booking.TransientStoreError{Op: "probe identifiers", Err: context.DeadlineExceeded}, http.StatusServiceUnavailable, booking.CodeTransientStore},
		{"rate limited", booking.ErrRateLimited, http.StatusTooManyRequests, booking.CodeRateLimited},
		{"internal", errors.New("check constraint violated"), http.StatusInternalServerError, booking.CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newServer(&fakeService{bookErr: tt.err})
			defer srv.Close()

			resp, body := do(t, http.MethodPost, srv.URL+"/v1/appointments", bookBody, map[string]string{actorHeader: uuid.NewString()})
			require.Equal(t, tt.status, resp.StatusCode)
			require.Equal(t, tt.code, body["code"])
			if tt.code == booking.CodePrerequisiteMissing {
				require.Equal(t, []any{"C200"}, body["missing"])
			}
			if tt.code == booking.CodeInternal {
				require.Equal(t, "internal error", body["message"])
			}
		})
	}
}

func TestBookingsAPI_RejectsUnknownFields(t *testing.T) {
	srv := newServer(&fakeService{})
	defer srv.Close()

	resp, _ := do(t, http.MethodPost, srv.URL+"/v1/appointments", `{"agentTin":"x","status":"Completed"}`, map[string]string{actorHeader: uuid.NewString()})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestBookingsAPI_GetCompleteReopen(t *testing.T) {
	srv := newServer(&fakeService{})
	defer srv.Close()

	resp, body := do(t, http.MethodGet, srv.URL+"/v1/appointments/2508020009", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "2508020009", body["appointmentNumber"])

	resp, body = do(t, http.MethodPost, srv.URL+"/v1/appointments/2508020004/complete", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, models.AppointmentStatusCompleted, body["status"])

	resp, body = do(t, http.MethodPost, srv.URL+"/v1/appointments/2508020004/reopen", "", nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	require.Equal(t, booking.CodeCompleted, body["code"])
}

func TestBookingsAPI_GetNotFound(t *testing.T) {
	srv := newServer(&fakeService{getErr: booking.ErrAppointmentNotFound})
	defer srv.Close()

	resp, body := do(t, http.MethodGet, srv.URL+"/v1/appointments/404", "", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, booking.CodeNotFound, body["code"])
}

func TestBookingsAPI_Delete(t *testing.T) {
	svc := &fakeService{}
	srv := newServer(svc)
	defer srv.Close()
	actor := uuid.New()

	resp, _ := do(t, http.MethodDelete, srv.URL+"/v1/appointments/2508020004", "", map[string]string{actorHeader: actor.String()})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Equal(t, actor, svc.deletedBy)

	resp, body := do(t, http.MethodDelete, srv.URL+"/v1/appointments/2508020004", "", nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	require.Equal(t, booking.CodeForbidden, body["code"])
}
