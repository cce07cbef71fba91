package agents

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/fleetstack/fleetguard/internal/models"
	"github.com/fleetstack/fleetguard/internal/store"
)

func testScheduler(st store.Store, now time.Time) *MaintenanceScheduler {
	s := NewMaintenanceScheduler(discardLogger(), st, 9, 17, 7)
	s.now = func() time.Time { return now }
	return s
}

func TestAvailableSlotsFullDay(t *testing.T) {
	day := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	s := testScheduler(store.NewMemoryStore(), day)

	slots, err := s.AvailableSlots(context.Background(), day)
	if err != nil {
		t.Fatalf("available slots: %v", err)
	}
	if len(slots) != 8 {
		t.Fatalf("slot count %d, want 8", len(slots))
	}
	if slots[0].Hour() != 9 || slots[len(slots)-1].Hour() != 16 {
		t.Fatalf("slots should run 9:00..16:00, got %v .. %v", slots[0], slots[len(slots)-1])
	}
}

func TestAvailableSlotsExcludesBooked(t *testing.T) {
	st := store.NewMemoryStore()
	day := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	booked := &models.Appointment{
		ID:          "apt-1",
		VehicleID:   "VEH001",
		ServiceType: "oil_change",
		SlotStart:   day.Add(11 * time.Hour),
		SlotEnd:     day.Add(12 * time.Hour),
		Status:      models.AppointmentConfirmed,
		CreatedAt:   time.Now().UTC(),
	}
	if err := st.SaveAppointment(context.Background(), booked); err != nil {
		t.Fatalf("save appointment: %v", err)
	}

	s := testScheduler(st, day)
	slots, err := s.AvailableSlots(context.Background(), day)
	if err != nil {
		t.Fatalf("available slots: %v", err)
	}
	if len(slots) != 7 {
		t.Fatalf("slot count %d, want 7", len(slots))
	}
	for _, slot := range slots {
		if slot.Hour() == 11 {
			t.Fatalf("booked 11:00 slot should be excluded")
		}
	}

	// Cancelling frees the slot.
	booked.Status = models.AppointmentCancelled
	if err := st.SaveAppointment(context.Background(), booked); err != nil {
		t.Fatalf("cancel appointment: %v", err)
	}
	slots, err = s.AvailableSlots(context.Background(), day)
	if err != nil {
		t.Fatalf("available slots: %v", err)
	}
	if len(slots) != 8 {
		t.Fatalf("cancelled slot should be free again, got %d slots", len(slots))
	}
}

func TestBookTakesFirstFreeFutureSlot(t *testing.T) {
	st := store.NewMemoryStore()
	now := time.Date(2025, 6, 2, 12, 30, 0, 0, time.UTC)
	s := testScheduler(st, now)

	appointment, err := s.Book(context.Background(), "VEH001", "oil_change", now)
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if appointment.SlotStart.Hour() != 13 || !appointment.SlotStart.Equal(time.Date(2025, 6, 2, 13, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected first future slot 13:00 same day, got %v", appointment.SlotStart)
	}
	if appointment.Status != models.AppointmentConfirmed {
		t.Fatalf("new appointment should be confirmed, got %s", appointment.Status)
	}
	if appointment.SlotEnd.Sub(appointment.SlotStart) != time.Hour {
		t.Fatalf("slots are one hour, got %v", appointment.SlotEnd.Sub(appointment.SlotStart))
	}
}

func TestBookRollsToNextDayWhenFull(t *testing.T) {
	st := store.NewMemoryStore()
	day := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	for hour := 9; hour < 17; hour++ {
		appointment := &models.Appointment{
			ID:          fmt.Sprintf("apt-%d", hour),
			VehicleID:   "VEH009",
			ServiceType: "oil_change",
			SlotStart:   day.Add(time.Duration(hour) * time.Hour),
			SlotEnd:     day.Add(time.Duration(hour+1) * time.Hour),
			Status:      models.AppointmentConfirmed,
			CreatedAt:   time.Now().UTC(),
		}
		if err := st.SaveAppointment(context.Background(), appointment); err != nil {
			t.Fatalf("save appointment: %v", err)
		}
	}

	s := testScheduler(st, day)
	appointment, err := s.Book(context.Background(), "VEH001", "brake_replacement", day)
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	wantSlot := day.AddDate(0, 0, 1).Add(9 * time.Hour)
	if !appointment.SlotStart.Equal(wantSlot) {
		t.Fatalf("expected next-day 9:00 slot %v, got %v", wantSlot, appointment.SlotStart)
	}
}

func TestBookExhaustsHorizon(t *testing.T) {
	st := store.NewMemoryStore()
	day := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	s := NewMaintenanceScheduler(discardLogger(), st, 9, 17, 2)
	s.now = func() time.Time { return day }

	for offset := 0; offset < 2; offset++ {
		for hour := 9; hour < 17; hour++ {
			slot := day.AddDate(0, 0, offset).Add(time.Duration(hour) * time.Hour)
			appointment := &models.Appointment{
				ID:          fmt.Sprintf("apt-%d-%d", offset, hour),
				VehicleID:   "VEH009",
				ServiceType: "oil_change",
				SlotStart:   slot,
				SlotEnd:     slot.Add(time.Hour),
				Status:      models.AppointmentConfirmed,
				CreatedAt:   time.Now().UTC(),
			}
			if err := st.SaveAppointment(context.Background(), appointment); err != nil {
				t.Fatalf("save appointment: %v", err)
			}
		}
	}

	if _, err := s.Book(context.Background(), "VEH001", "oil_change", day); !errors.Is(err, ErrNoFreeSlot) {
		t.Fatalf("error = %v, want ErrNoFreeSlot when every slot in the horizon is booked", err)
	}
}

func TestAutoScheduleBooksNextDay(t *testing.T) {
	st := store.NewMemoryStore()
	now := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	s := testScheduler(st, now)

	diagnosis := criticalBatteryDiagnosis()
	outcome, err := s.AutoSchedule(context.Background(), diagnosis)
	if err != nil {
		t.Fatalf("auto schedule: %v", err)
	}
	if outcome.Status != models.ScheduleBooked || outcome.Appointment == nil {
		t.Fatalf("expected booked outcome with appointment, got %+v", outcome)
	}
	if outcome.Appointment.ServiceType != "battery_replacement" {
		t.Fatalf("appointment should book the recommended action, got %s", outcome.Appointment.ServiceType)
	}
	wantDay := now.AddDate(0, 0, 1)
	if outcome.Appointment.SlotStart.Day() != wantDay.Day() {
		t.Fatalf("expected next-day booking, got %v", outcome.Appointment.SlotStart)
	}
}

func TestCancelFreesSlot(t *testing.T) {
	st := store.NewMemoryStore()
	now := time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)
	s := testScheduler(st, now)

	appointment, err := s.Book(context.Background(), "VEH001", "oil_change", now)
	if err != nil {
		t.Fatalf("book: %v", err)
	}

	cancelled, err := s.Cancel(context.Background(), appointment.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != models.AppointmentCancelled {
		t.Fatalf("expected cancelled status, got %s", cancelled.Status)
	}

	// Idempotent.
	again, err := s.Cancel(context.Background(), appointment.ID)
	if err != nil {
		t.Fatalf("second cancel: %v", err)
	}
	if again.Status != models.AppointmentCancelled {
		t.Fatalf("second cancel should keep cancelled status")
	}

	if _, err := s.Cancel(context.Background(), "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown appointment, got %v", err)
	}

	slots, err := s.AvailableSlots(context.Background(), appointment.SlotStart)
	if err != nil {
		t.Fatalf("available slots: %v", err)
	}
	found := false
	for _, slot := range slots {
		if slot.Equal(appointment.SlotStart) {
			found = true
		}
	}
	if !found {
		t.Fatalf("cancelled slot %v should be available again", appointment.SlotStart)
	}
}
