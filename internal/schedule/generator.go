package schedule

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Generator expands weekly rules and date exceptions into concrete slot
// candidates. It is pure: it never touches storage, so the service can
// run its candidates through conflict detection and decide persistence.
type Generator struct {
	// DefaultSlotMinutes is used for custom_hours days when no weekly
	// rule supplies a duration for that weekday.
	DefaultSlotMinutes int
}

func NewGenerator(defaultSlotMinutes int) *Generator {
	if defaultSlotMinutes <= 0 {
		defaultSlotMinutes = 30
	}
	return &Generator{DefaultSlotMinutes: defaultSlotMinutes}
}

type window struct {
	start         time.Time
	end           time.Time
	slotMinutes   int
	bufferMinutes int
	ruleID        *uuid.UUID
}

// ExpandDay produces the candidate slots for one calendar day, already
// filtered to strictly-future starts. Exceptions take precedence over
// rules: custom_hours narrows the day to its own window, every other
// exception type suppresses the day entirely.
func (g *Generator) ExpandDay(day time.Time, loc *time.Location, rules []WorkingHoursRule, exc *AvailabilityException, now time.Time) ([]Slot, error) {
	windows, err := g.dayWindows(day, loc, rules, exc)
	if err != nil {
		return nil, err
	}

	var out []Slot
	for _, w := range windows {
		step := time.Duration(w.slotMinutes+w.bufferMinutes) * time.Minute
		length := time.Duration(w.slotMinutes) * time.Minute

		for start := w.start; !start.Add(length).After(w.end); start = start.Add(step) {
			if !start.After(now) {
				continue
			}
			out = append(out, Slot{
				ID:                  uuid.New(),
				SlotDate:            dateOnly(day),
				SlotStart:           start,
				SlotEnd:             start.Add(length),
				Status:              SlotAvailable,
				SlotType:            SlotTypeRegular,
				GeneratedFromRuleID: w.ruleID,
			})
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].SlotStart.Before(out[j].SlotStart) })
	return out, nil
}

func (g *Generator) dayWindows(day time.Time, loc *time.Location, rules []WorkingHoursRule, exc *AvailabilityException) ([]window, error) {
	if exc != nil {
		if exc.Type != ExceptionCustomHours {
			// unavailable, holiday, vacation, conference, emergency all
			// suppress generation for the day.
			return nil, nil
		}
		if exc.CustomStart == nil || exc.CustomEnd == nil {
			return nil, fmt.Errorf("custom_hours exception on %s has no window", day.Format("2006-01-02"))
		}
		start, err := anchorClock(day, *exc.CustomStart, loc)
		if err != nil {
			return nil, err
		}
		end, err := anchorClock(day, *exc.CustomEnd, loc)
		if err != nil {
			return nil, err
		}
		if !end.After(start) {
			return nil, fmt.Errorf("custom_hours window on %s is empty", day.Format("2006-01-02"))
		}

		slotMinutes := g.DefaultSlotMinutes
		bufferMinutes := 0
		if r := ruleForWeekday(rules, int(day.Weekday())); r != nil {
			slotMinutes = r.SlotMinutes
			bufferMinutes = r.BufferMinutes
		}
		return []window{{start: start, end: end, slotMinutes: slotMinutes, bufferMinutes: bufferMinutes}}, nil
	}

	var windows []window
	for i := range rules {
		r := &rules[i]
		if !r.Active || r.DayOfWeek != int(day.Weekday()) {
			continue
		}
		start, err := anchorClock(day, r.StartTime, loc)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", r.ID, err)
		}
		end, err := anchorClock(day, r.EndTime, loc)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", r.ID, err)
		}
		if !end.After(start) {
			continue
		}
		ruleID := r.ID
		windows = append(windows, window{
			start:         start,
			end:           end,
			slotMinutes:   r.SlotMinutes,
			bufferMinutes: r.BufferMinutes,
			ruleID:        &ruleID,
		})
	}
	return windows, nil
}

func ruleForWeekday(rules []WorkingHoursRule, weekday int) *WorkingHoursRule {
	for i := range rules {
		if rules[i].Active && rules[i].DayOfWeek == weekday {
			return &rules[i]
		}
	}
	return nil
}

// anchorClock re-anchors a "15:04" wall-clock string onto a calendar
// day in the provider's location, producing an absolute instant.
func anchorClock(day time.Time, clock string, loc *time.Location) (time.Time, error) {
	t, err := time.Parse("15:04", clock)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse clock %q: %w", clock, err)
	}
	return time.Date(day.Year(), day.Month(), day.Day(), t.Hour(), t.Minute(), 0, 0, loc), nil
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// DaysBetween lists each calendar day from from through to inclusive,
// anchored at midnight in loc.
func DaysBetween(from, to time.Time, loc *time.Location) []time.Time {
	var days []time.Time
	d := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, loc)
	end := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, loc)
	for !d.After(end) {
		days = append(days, d)
		d = d.AddDate(0, 0, 1)
	}
	return days
}
