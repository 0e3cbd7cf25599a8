package appointment

import (
	"errors"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
)

const (
	DefaultSlotMinutes = 15
	MinSlotMinutes     = 5
	MaxSlotMinutes     = 240
)

// DayAvailability is the declared window for one weekday.
type DayAvailability struct {
	Enabled   bool      `json:"enabled"`
	StartTime ClockTime `json:"start_time"`
	EndTime   ClockTime `json:"end_time"`
}

func (d DayAvailability) Validate() error {
	if !d.Enabled {
		return nil
	}
	return validation.ValidateStruct(&d,
		validation.Field(&d.StartTime, validation.By(validClock)),
		validation.Field(&d.EndTime, validation.By(validClock), validation.By(func(any) error {
			if d.StartTime >= d.EndTime {
				return errors.New("must be after start_time")
			}
			return nil
		})),
	)
}

func validClock(v any) error {
	c, _ := v.(ClockTime)
	if !c.Valid() {
		return errors.New("must be between 00:00 and 24:00")
	}
	return nil
}

// ProviderAvailability is one provider's recurring weekly availability.
// It is overwritten wholesale on every update.
type ProviderAvailability struct {
	ProviderID  uuid.UUID
	Days        map[time.Weekday]DayAvailability
	SlotMinutes int
	UpdatedAt   time.Time
}

// NewProviderAvailability returns an availability with all seven days disabled.
func NewProviderAvailability(providerID uuid.UUID, slotMinutes int) *ProviderAvailability {
	pa := &ProviderAvailability{
		ProviderID:  providerID,
		Days:        make(map[time.Weekday]DayAvailability, 7),
		SlotMinutes: slotMinutes,
	}
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		pa.Days[wd] = DayAvailability{}
	}
	return pa
}

func (pa *ProviderAvailability) Day(wd time.Weekday) DayAvailability {
	if pa == nil {
		return DayAvailability{}
	}
	return pa.Days[wd]
}

func (pa *ProviderAvailability) Validate() error {
	err := validation.ValidateStruct(pa,
		validation.Field(&pa.ProviderID, validation.By(func(v any) error {
			if v.(uuid.UUID) == uuid.Nil {
				return errors.New("is required")
			}
			return nil
		})),
		validation.Field(&pa.Days, validation.Required, validation.Length(7, 7), validation.By(func(any) error {
			for wd := time.Sunday; wd <= time.Saturday; wd++ {
				d, ok := pa.Days[wd]
				if !ok {
					return errors.New("must contain all seven weekdays")
				}
				if err := d.Validate(); err != nil {
					return validation.Errors{wd.String(): err}
				}
			}
			return nil
		})),
		validation.Field(&pa.SlotMinutes, validation.Required, validation.Min(MinSlotMinutes), validation.Max(MaxSlotMinutes)),
	)
	if err != nil {
		return &Error{Kind: KindValidation, Rule: RuleInvalidAvailability, Message: err.Error()}
	}
	return nil
}

// Covers reports whether [start, start+duration) lies inside the enabled window of date's weekday.
func (pa *ProviderAvailability) Covers(date time.Time, start ClockTime, durationMinutes int) bool {
	day := pa.Day(date.Weekday())
	if !day.Enabled {
		return false
	}
	return start >= day.StartTime && start+ClockTime(durationMinutes) <= day.EndTime
}
