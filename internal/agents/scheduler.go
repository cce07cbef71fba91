package agents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/fleetstack/fleetguard/internal/models"
	"github.com/fleetstack/fleetguard/internal/store"
	"github.com/fleetstack/fleetguard/internal/utils"
)

// ErrNoFreeSlot reports that the booking horizon is fully taken.
var ErrNoFreeSlot = errors.New("no free slot in booking horizon")

// MaintenanceScheduler books hour-long service slots during business hours.
type MaintenanceScheduler struct {
	logger      *slog.Logger
	store       store.Store
	openingHour int
	closingHour int
	horizonDays int

	now func() time.Time
}

// NewMaintenanceScheduler constructs the scheduler. Hours outside a sane
// range fall back to 9..17 with a 7 day booking horizon.
func NewMaintenanceScheduler(logger *slog.Logger, st store.Store, openingHour, closingHour, horizonDays int) *MaintenanceScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if openingHour <= 0 || closingHour <= openingHour || closingHour > 24 {
		openingHour, closingHour = 9, 17
	}
	if horizonDays <= 0 {
		horizonDays = 7
	}
	return &MaintenanceScheduler{
		logger:      logger,
		store:       st,
		openingHour: openingHour,
		closingHour: closingHour,
		horizonDays: horizonDays,
		now:         time.Now,
	}
}

// AvailableSlots lists the day's free slot start times. Cancelled
// appointments do not block their slot.
func (s *MaintenanceScheduler) AvailableSlots(ctx context.Context, day time.Time) ([]time.Time, error) {
	if s.store == nil {
		return nil, fmt.Errorf("scheduler store not configured")
	}
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	booked, err := s.store.AppointmentsBetween(ctx, dayStart, dayStart.Add(24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("load appointments: %w", err)
	}

	taken := make(map[int64]bool, len(booked))
	for _, appointment := range booked {
		if appointment.Status == models.AppointmentCancelled {
			continue
		}
		taken[appointment.SlotStart.Unix()] = true
	}

	slots := make([]time.Time, 0, s.closingHour-s.openingHour)
	for hour := s.openingHour; hour < s.closingHour; hour++ {
		slot := dayStart.Add(time.Duration(hour) * time.Hour)
		if taken[slot.Unix()] {
			continue
		}
		slots = append(slots, slot)
	}
	return slots, nil
}

// Book takes the first free future slot on the preferred day, scanning
// forward day by day up to the horizon.
func (s *MaintenanceScheduler) Book(ctx context.Context, vehicleID, serviceType string, preferred time.Time) (*models.Appointment, error) {
	if s.store == nil {
		return nil, fmt.Errorf("scheduler store not configured")
	}
	if vehicleID == "" {
		return nil, fmt.Errorf("booking requires a vehicle id: %w", utils.ErrInvalidInput)
	}
	if serviceType == "" {
		return nil, fmt.Errorf("booking requires a service type: %w", utils.ErrInvalidInput)
	}
	now := s.now()
	if preferred.IsZero() {
		preferred = now.Add(24 * time.Hour)
	}

	for dayOffset := 0; dayOffset < s.horizonDays; dayOffset++ {
		day := preferred.AddDate(0, 0, dayOffset)
		slots, err := s.AvailableSlots(ctx, day)
		if err != nil {
			return nil, err
		}
		for _, slot := range slots {
			if slot.Before(now) {
				continue
			}
			appointment := &models.Appointment{
				ID:          uuid.NewString(),
				VehicleID:   vehicleID,
				ServiceType: serviceType,
				SlotStart:   slot,
				SlotEnd:     slot.Add(time.Hour),
				Status:      models.AppointmentConfirmed,
				CreatedAt:   now.UTC(),
			}
			if err := s.store.SaveAppointment(ctx, appointment); err != nil {
				return nil, fmt.Errorf("persist appointment: %w", err)
			}
			s.logger.Info("maintenance booked",
				slog.String("vehicle_id", vehicleID),
				slog.String("service_type", serviceType),
				slog.Time("slot", slot))
			return appointment, nil
		}
	}
	return nil, fmt.Errorf("%w: within %d days of %s", ErrNoFreeSlot, s.horizonDays, preferred.Format("2006-01-02"))
}

// AutoSchedule books the diagnosis's recommended service, preferring the
// next day so the owner has time to react to the alert.
func (s *MaintenanceScheduler) AutoSchedule(ctx context.Context, diagnosis *models.DiagnosisResult) (*models.ScheduleOutcome, error) {
	if diagnosis == nil || diagnosis.VehicleID == "" {
		return nil, fmt.Errorf("no diagnosis to schedule")
	}
	serviceType := diagnosis.RecommendedAction
	if serviceType == "" {
		serviceType = "general_inspection"
	}
	appointment, err := s.Book(ctx, diagnosis.VehicleID, serviceType, s.now().Add(24*time.Hour))
	if err != nil {
		return nil, err
	}
	return &models.ScheduleOutcome{
		Status:      models.ScheduleBooked,
		Appointment: appointment,
	}, nil
}

// Cancel marks an appointment cancelled, freeing its slot. Cancelling an
// already cancelled appointment is a no-op.
func (s *MaintenanceScheduler) Cancel(ctx context.Context, appointmentID string) (*models.Appointment, error) {
	if s.store == nil {
		return nil, fmt.Errorf("scheduler store not configured")
	}
	appointment, err := s.store.Appointment(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if appointment.Status == models.AppointmentCancelled {
		return appointment, nil
	}
	appointment.Status = models.AppointmentCancelled
	if err := s.store.SaveAppointment(ctx, appointment); err != nil {
		return nil, fmt.Errorf("persist cancellation: %w", err)
	}
	s.logger.Info("appointment cancelled",
		slog.String("appointment_id", appointment.ID),
		slog.String("vehicle_id", appointment.VehicleID))
	return appointment, nil
}
