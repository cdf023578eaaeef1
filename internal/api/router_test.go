package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"parking_reservation/internal/api"
	"parking_reservation/internal/api/middleware"
	"parking_reservation/internal/domain"
	"parking_reservation/internal/repository/boltdb"
	"parking_reservation/internal/service"
)

var t0 = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

type testServer struct {
	router *gin.Engine
	store  *boltdb.Store
	tokens *service.TokenService
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	now := func() time.Time { return t0 }

	store, err := boltdb.Open(filepath.Join(t.TempDir(), "api.db"), boltdb.WithClock(now))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	locker := service.NewKeyedLocker()
	resolver := service.NewSlotResolver(store.Slots(), map[string]string{"1": "A1", "2": "A2"})
	bookings := service.NewBookingService(store.Slots(), store.Bookings(), store.Accounts(), resolver, locker, nil, now)
	reconciler := service.NewReconcilerService(store.Slots(), store.Bookings(), resolver, locker, nil, nil, "3", now)
	if _, err := bookings.SeedSlots(context.Background()); err != nil {
		t.Fatalf("seed: %v", err)
	}
	tokens := service.NewTokenService("test-secret")

	router := api.SetupRouter(api.Services{
		Bookings:    bookings,
		Reconciler:  reconciler,
		AuthMw:      middleware.NewAuthMiddleware(tokens),
		SensorLimit: middleware.NewRateLimiter(100, 100),
	})
	return &testServer{router: router, store: store, tokens: tokens}
}

func (s *testServer) do(t *testing.T, method, path string, body any, accountID string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if accountID != "" {
		token, err := s.tokens.Issue(accountID, time.Hour)
		if err != nil {
			t.Fatalf("issue token: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
	return v
}

func bookingBody(slot, plate string, start, end time.Time) gin.H {
	return gin.H{"slotId": slot, "carNumber": plate, "startTime": start, "endTime": end}
}

func TestCreateAndConflict(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/v1/bookings", bookingBody("A1", "KA01AB1234", t0, t0.Add(2*time.Hour)), "")
	if w.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", w.Code, w.Body.String())
	}
	b := decode[domain.Booking](t, w)
	if b.TotalCost != 100 || b.Status != domain.BookingPendingArrival || b.SlotNumber != "A1" {
		t.Fatalf("booking = %+v", b)
	}

	w = s.do(t, http.MethodPost, "/api/v1/bookings", bookingBody("1", "MH12DE1433", t0.Add(time.Hour), t0.Add(3*time.Hour)), "")
	if w.Code != http.StatusConflict || decode[gin.H](t, w)["code"] != service.ConflictSlot {
		t.Fatalf("slot conflict: %d %s", w.Code, w.Body.String())
	}

	w = s.do(t, http.MethodPost, "/api/v1/bookings", bookingBody("A2", "KA01AB1234", t0, t0.Add(time.Hour)), "")
	if w.Code != http.StatusConflict || decode[gin.H](t, w)["code"] != service.ConflictVehicle {
		t.Fatalf("vehicle conflict: %d %s", w.Code, w.Body.String())
	}

	w = s.do(t, http.MethodPost, "/api/v1/bookings", bookingBody("A2", "MH12DE1433", t0.Add(time.Hour), t0), "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad window: %d", w.Code)
	}
	w = s.do(t, http.MethodPost, "/api/v1/bookings", bookingBody("Z9", "MH12DE1433", t0, t0.Add(time.Hour)), "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown slot: %d", w.Code)
	}
	w = s.do(t, http.MethodPost, "/api/v1/bookings", gin.H{"slotId": "A2"}, "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing fields: %d", w.Code)
	}
}

func TestCreateWithAccount(t *testing.T) {
	s := newTestServer(t)
	acc := &domain.Account{ID: "acc-1", Vehicles: []domain.Vehicle{{PlateNumber: "KA01AB1234", Type: domain.VehicleCar}}}
	if _, err := s.store.Accounts().Create(context.Background(), acc); err != nil {
		t.Fatalf("create account: %v", err)
	}

	w := s.do(t, http.MethodPost, "/api/v1/bookings", bookingBody("A1", "MH12DE1433", t0, t0.Add(time.Hour)), "acc-1")
	if w.Code != http.StatusForbidden {
		t.Fatalf("foreign plate: %d %s", w.Code, w.Body.String())
	}

	w = s.do(t, http.MethodPost, "/api/v1/bookings", bookingBody("A1", "ka01 ab 1234", t0, t0.Add(time.Hour)), "acc-1")
	if w.Code != http.StatusCreated {
		t.Fatalf("own plate: %d %s", w.Code, w.Body.String())
	}
	created := decode[domain.Booking](t, w)
	if created.AccountID.String != "acc-1" {
		t.Fatalf("account = %v", created.AccountID)
	}

	w = s.do(t, http.MethodGet, "/api/v1/bookings", nil, "acc-1")
	if list := decode[[]domain.Booking](t, w); w.Code != http.StatusOK || len(list) != 1 {
		t.Fatalf("list: %d %s", w.Code, w.Body.String())
	}
	if w = s.do(t, http.MethodGet, "/api/v1/bookings", nil, ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("list without token: %d", w.Code)
	}

	w = s.do(t, http.MethodPost, "/api/v1/bookings/"+created.ID+"/extend", gin.H{"additionalHours": 1}, "acc-2")
	if w.Code != http.StatusForbidden {
		t.Fatalf("extend by another account: %d", w.Code)
	}
	w = s.do(t, http.MethodPost, "/api/v1/bookings/"+created.ID+"/extend", gin.H{"additionalHours": 0.5}, "acc-1")
	if w.Code != http.StatusOK || decode[domain.Booking](t, w).TotalCost != 75 {
		t.Fatalf("extend: %d %s", w.Code, w.Body.String())
	}
}

func TestCancelAndGet(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodPost, "/api/v1/bookings", bookingBody("A1", "KA01AB1234", t0, t0.Add(time.Hour)), "")
	b := decode[domain.Booking](t, w)

	if w = s.do(t, http.MethodGet, "/api/v1/bookings/"+b.ID, nil, ""); w.Code != http.StatusOK {
		t.Fatalf("get: %d", w.Code)
	}
	if w = s.do(t, http.MethodPost, "/api/v1/bookings/"+b.ID+"/cancel", nil, ""); w.Code != http.StatusOK {
		t.Fatalf("cancel: %d %s", w.Code, w.Body.String())
	}
	if w = s.do(t, http.MethodPost, "/api/v1/bookings/"+b.ID+"/cancel", nil, ""); w.Code != http.StatusConflict {
		t.Fatalf("second cancel: %d", w.Code)
	}
	if w = s.do(t, http.MethodGet, "/api/v1/bookings/missing", nil, ""); w.Code != http.StatusNotFound {
		t.Fatalf("missing: %d", w.Code)
	}
}

func TestCheckAndEntry(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodPost, "/api/v1/bookings", bookingBody("A1", "KA01AB1234", t0, t0.Add(time.Hour)), "")

	w := s.do(t, http.MethodPost, "/api/v1/bookings/check", gin.H{
		"carNumber": "MH12DE1433", "slotId": "A1", "startTime": t0, "endTime": t0.Add(time.Hour),
	}, "")
	if got := decode[domain.Availability](t, w); got.Available || got.Conflict != service.ConflictSlot {
		t.Fatalf("check: %+v", got)
	}

	w = s.do(t, http.MethodPost, "/api/v1/bookings/entry", gin.H{"carNumber": "KA01AB1234"}, "")
	if got := decode[domain.EntryMatch](t, w); w.Code != http.StatusOK || !got.Matched {
		t.Fatalf("entry: %d %s", w.Code, w.Body.String())
	}
	w = s.do(t, http.MethodPost, "/api/v1/bookings/entry", gin.H{"carNumber": "KA01AB1234"}, "")
	if got := decode[domain.EntryMatch](t, w); got.Matched {
		t.Fatalf("second entry matched again: %s", w.Body.String())
	}
}

func TestSlotsAndSensorUpdates(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/api/v1/slots", nil, "")
	if slots := decode[[]domain.SlotView](t, w); w.Code != http.StatusOK || len(slots) != 18 {
		t.Fatalf("slots: %d", w.Code)
	}
	if w = s.do(t, http.MethodGet, "/api/v1/slots?start="+t0.Format(time.RFC3339), nil, ""); w.Code != http.StatusBadRequest {
		t.Fatalf("half window: %d", w.Code)
	}

	w = s.do(t, http.MethodPost, "/api/v1/slots/slot-update", gin.H{"slot_id": "3", "status": "OCCUPIED"}, "")
	if got := decode[domain.GateDecision](t, w); w.Code != http.StatusOK || got.Status != domain.GateDeny {
		t.Fatalf("gate: %d %s", w.Code, w.Body.String())
	}

	w = s.do(t, http.MethodPost, "/api/v1/slots/slot-update", gin.H{"slot_id": 2, "status": "occupied"}, "")
	if got := decode[domain.SlotAck](t, w); w.Code != http.StatusOK || got.Slot.SlotNumber != "A2" || got.Slot.Status != domain.SlotOccupied {
		t.Fatalf("slot update: %d %s", w.Code, w.Body.String())
	}

	if w = s.do(t, http.MethodPost, "/api/v1/slots/slot-update", gin.H{"slot_id": "A1", "status": "open"}, ""); w.Code != http.StatusBadRequest {
		t.Fatalf("bad status: %d", w.Code)
	}
	if w = s.do(t, http.MethodPost, "/api/v1/slots/slot-update", gin.H{"slot_id": "Z9", "status": "FREE"}, ""); w.Code != http.StatusNotFound {
		t.Fatalf("unknown slot: %d", w.Code)
	}
}
