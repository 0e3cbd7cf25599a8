package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// GetAvailability returns the provider's weekly availability.
func (s *Service) GetAvailability(ctx context.Context, providerID uuid.UUID) (*ProviderAvailability, error) {
	pa, err := s.repo.GetAvailability(ctx, providerID)
	if err != nil {
		if errors.Is(err, ErrAvailabilityNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load availability: %w", err)
	}
	return pa, nil
}

// SetAvailability overwrites the provider's weekly availability. Only the
// owning provider may do this.
func (s *Service) SetAvailability(ctx context.Context, actor Actor, pa *ProviderAvailability) (*ProviderAvailability, error) {
	if actor.Role != RoleDoctor || actor.ID != pa.ProviderID {
		return nil, newError(KindUnauthorized, RuleNotOwner, "only the owning provider may change availability")
	}
	if pa.SlotMinutes == 0 {
		pa.SlotMinutes = s.cfg.SlotMinutes
	}
	if err := pa.Validate(); err != nil {
		return nil, err
	}

	if _, err := s.repo.GetProviderProfile(ctx, pa.ProviderID); err != nil {
		if errors.Is(err, ErrProviderNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load provider: %w", err)
	}

	pa.UpdatedAt = s.clock()
	if err := s.repo.SaveAvailability(ctx, pa); err != nil {
		return nil, fmt.Errorf("save availability: %w", err)
	}

	s.log.Info("availability updated",
		zap.String("provider_id", pa.ProviderID.String()),
		zap.Int("slot_minutes", pa.SlotMinutes),
	)
	return pa, nil
}

// ListAvailableSlots returns the generated slots for date minus every slot that
// intersects a non-cancelled appointment. The result is advisory: Book
// re-checks under the provider lock. Storage failures are retried since the
// call has no side effects.
func (s *Service) ListAvailableSlots(ctx context.Context, providerID uuid.UUID, date time.Time) ([]Slot, error) {
	now := s.clock()
	day := DateOf(date)
	if day.Before(DateOf(now)) {
		return []Slot{}, nil
	}

	return backoff.Retry(ctx, func() ([]Slot, error) {
		return s.availableSlots(ctx, providerID, day, now)
	},
		backoff.WithBackOff(readBackOff()),
		backoff.WithMaxTries(uint(max(s.cfg.ReadRetries, 1))),
	)
}

func readBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = 500 * time.Millisecond
	return b
}

func (s *Service) availableSlots(ctx context.Context, providerID uuid.UUID, day, now time.Time) ([]Slot, error) {
	pa, err := s.repo.GetAvailability(ctx, providerID)
	if err != nil {
		if errors.Is(err, ErrAvailabilityNotFound) {
			return nil, backoff.Permanent(err)
		}
		return nil, fmt.Errorf("load availability: %w", err)
	}

	occupied, err := s.loadOccupancy(ctx, providerID, day)
	if err != nil {
		return nil, err
	}

	free := occupied.filter(GenerateSlots(pa, day))

	// Slots that already started today are not offered.
	out := free[:0]
	for _, sl := range free {
		if sl.StartTime.On(day, s.cfg.Location).After(now) {
			out = append(out, sl)
		}
	}
	return out, nil
}

// Occupied returns the start times held by non-cancelled appointments of a
// provider on a date.
func (s *Service) Occupied(ctx context.Context, providerID uuid.UUID, date time.Time) (map[ClockTime]struct{}, error) {
	occ, err := s.loadOccupancy(ctx, providerID, date)
	if err != nil {
		return nil, err
	}
	return occ.StartTimes(), nil
}

func (s *Service) loadOccupancy(ctx context.Context, providerID uuid.UUID, date time.Time) (occupancy, error) {
	appts, err := s.repo.ListActiveAppointments(ctx, providerID, DateOf(date))
	if err != nil {
		return nil, fmt.Errorf("list active appointments: %w", err)
	}
	return newOccupancy(appts), nil
}
