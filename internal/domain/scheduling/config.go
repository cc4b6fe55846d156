package scheduling

import (
	"fmt"
	"strings"
	"time"
)

// HourRange is a [Start, End) range of hours within a local day.
type HourRange struct {
	Start int `json:"start" yaml:"start" mapstructure:"start"`
	End   int `json:"end" yaml:"end" mapstructure:"end"`
}

// Config captures the calendar policy every resolution runs under. It is
// injected at construction; nothing in this package hardcodes these values.
type Config struct {
	Timezone           string                  `json:"timezone" yaml:"timezone" mapstructure:"timezone"`
	WorkingHoursStart  int                     `json:"working_hours_start" yaml:"working_hours_start" mapstructure:"working_hours_start"`
	WorkingHoursEnd    int                     `json:"working_hours_end" yaml:"working_hours_end" mapstructure:"working_hours_end"`
	WorkingDays        []time.Weekday          `json:"working_days" yaml:"working_days" mapstructure:"working_days"`
	DefaultHorizonDays int                     `json:"default_horizon_days" yaml:"default_horizon_days" mapstructure:"default_horizon_days"`
	MaxHorizonDays     int                     `json:"max_horizon_days" yaml:"max_horizon_days" mapstructure:"max_horizon_days"`
	MaxAlternatives    int                     `json:"max_alternatives" yaml:"max_alternatives" mapstructure:"max_alternatives"`
	SlotStepMinutes    int                     `json:"slot_step_minutes" yaml:"slot_step_minutes" mapstructure:"slot_step_minutes"`
	DayParts           map[TimeOfDay]HourRange `json:"day_parts" yaml:"day_parts" mapstructure:"day_parts"`
}

// DefaultConfig returns the policy used when nothing else is configured:
// UTC, Monday to Friday 09:00-17:00, a two week look-ahead widened to at
// most six weeks, three proposals on a 30 minute grid.
func DefaultConfig() Config {
	return Config{
		Timezone:          "UTC",
		WorkingHoursStart: 9,
		WorkingHoursEnd:   17,
		WorkingDays: []time.Weekday{
			time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday,
		},
		DefaultHorizonDays: 14,
		MaxHorizonDays:     42,
		MaxAlternatives:    3,
		SlotStepMinutes:    30,
		DayParts:           DefaultDayParts(),
	}
}

// DefaultDayParts returns the hour ranges behind each time-of-day word.
func DefaultDayParts() map[TimeOfDay]HourRange {
	return map[TimeOfDay]HourRange{
		Morning:   {Start: 6, End: 12},
		Afternoon: {Start: 12, End: 17},
		Evening:   {Start: 17, End: 22},
	}
}

// Validate reports every configuration problem at once.
func (c Config) Validate() error {
	var problems []string
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		problems = append(problems, fmt.Sprintf("timezone %q: %v", c.Timezone, err))
	}
	if c.WorkingHoursStart < 0 || c.WorkingHoursStart > 23 {
		problems = append(problems, "working_hours_start must be within 0-23")
	}
	if c.WorkingHoursEnd < 1 || c.WorkingHoursEnd > 24 {
		problems = append(problems, "working_hours_end must be within 1-24")
	}
	if c.WorkingHoursEnd <= c.WorkingHoursStart {
		problems = append(problems, "working_hours_end must be after working_hours_start")
	}
	if len(c.WorkingDays) == 0 {
		problems = append(problems, "working_days must not be empty")
	}
	if c.DefaultHorizonDays <= 0 {
		problems = append(problems, "default_horizon_days must be positive")
	}
	if c.MaxHorizonDays < c.DefaultHorizonDays {
		problems = append(problems, "max_horizon_days must be >= default_horizon_days")
	}
	if c.MaxAlternatives <= 0 {
		problems = append(problems, "max_alternatives must be positive")
	}
	if c.SlotStepMinutes <= 0 || c.SlotStepMinutes > 24*60 {
		problems = append(problems, "slot_step_minutes must be within 1-1440")
	}
	for part, hours := range c.DayParts {
		if hours.Start < 0 || hours.End > 24 || hours.End <= hours.Start {
			problems = append(problems, fmt.Sprintf("day_parts.%s has an empty or invalid range", part))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid scheduling config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func (c Config) isWorkingDay(day time.Weekday) bool {
	for _, wd := range c.WorkingDays {
		if wd == day {
			return true
		}
	}
	return false
}

func (c Config) dayPart(part TimeOfDay) (HourRange, bool) {
	if c.DayParts != nil {
		if hours, ok := c.DayParts[part]; ok {
			return hours, true
		}
	}
	hours, ok := DefaultDayParts()[part]
	return hours, ok
}
