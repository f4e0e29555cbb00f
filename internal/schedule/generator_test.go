package schedule

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

// A Monday well in the future so the strictly-future filter never bites
// unless a test moves "now" deliberately.
var genDay = time.Date(2030, 6, 3, 0, 0, 0, 0, time.UTC)

var genNow = time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)

func mondayRule(start, end string, slotMin, bufMin int) WorkingHoursRule {
	return WorkingHoursRule{
		ID:            uuid.New(),
		DayOfWeek:     int(time.Monday),
		StartTime:     start,
		EndTime:       end,
		SlotMinutes:   slotMin,
		BufferMinutes: bufMin,
		Active:        true,
	}
}

func starts(slots []Slot) []string {
	out := make([]string, len(slots))
	for i, s := range slots {
		out[i] = s.SlotStart.UTC().Format("15:04")
	}
	return out
}

func TestExpandDayThreeHourWindow(t *testing.T) {
	if genDay.Weekday() != time.Monday {
		t.Fatalf("fixture day is %s, want Monday", genDay.Weekday())
	}

	gen := NewGenerator(30)
	rule := mondayRule("09:00", "12:00", 30, 0)
	slots, err := gen.ExpandDay(genDay, time.UTC, []WorkingHoursRule{rule}, nil, genNow)
	if err != nil {
		t.Fatalf("ExpandDay: %v", err)
	}
	want := []string{"09:00", "09:30", "10:00", "10:30", "11:00", "11:30"}
	got := starts(slots)
	if len(got) != len(want) {
		t.Fatalf("got %d slots %v, want %d", len(got), got, len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("slot %d starts at %s, want %s", i, got[i], want[i])
		}
	}

	last := slots[len(slots)-1]
	if got := last.SlotEnd.UTC().Format("15:04"); got != "12:00" {
		t.Errorf("last slot ends at %s, want 12:00", got)
	}
	for _, s := range slots {
		if s.GeneratedFromRuleID == nil || *s.GeneratedFromRuleID != rule.ID {
			t.Error("slot not linked to its source rule")
		}
		if s.Status != SlotAvailable || s.SlotType != SlotTypeRegular {
			t.Errorf("slot status/type = %s/%s", s.Status, s.SlotType)
		}
	}
}

func TestExpandDayBufferWidensStep(t *testing.T) {
	gen := NewGenerator(30)
	rule := mondayRule("09:00", "11:00", 30, 15)
	slots, err := gen.ExpandDay(genDay, time.UTC, []WorkingHoursRule{rule}, nil, genNow)
	if err != nil {
		t.Fatalf("ExpandDay: %v", err)
	}
	// 45-minute stride: 09:00, 09:45, 10:30 fit; 11:15 would end past
	// the window.
	want := []string{"09:00", "09:45", "10:30"}
	got := starts(slots)
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("slot %d starts at %s, want %s", i, got[i], want[i])
		}
	}
	for _, s := range slots {
		if got := s.SlotEnd.Sub(s.SlotStart); got != 30*time.Minute {
			t.Errorf("slot length = %s, buffer must not stretch the slot", got)
		}
	}
}

func TestExpandDayNoTruncatedFinalSlot(t *testing.T) {
	gen := NewGenerator(30)
	// 09:00-10:45 with 30-minute slots: 10:30 would end at 11:00, past
	// the window, so only three candidates survive.
	rule := mondayRule("09:00", "10:45", 30, 0)
	slots, err := gen.ExpandDay(genDay, time.UTC, []WorkingHoursRule{rule}, nil, genNow)
	if err != nil {
		t.Fatalf("ExpandDay: %v", err)
	}
	if len(slots) != 3 {
		t.Fatalf("got %d slots %v, want 3", len(slots), starts(slots))
	}
	if got := slots[2].SlotEnd.UTC().Format("15:04"); got != "10:30" {
		t.Errorf("last slot ends at %s, want 10:30", got)
	}
}

func TestExpandDaySuppressingExceptionTypes(t *testing.T) {
	gen := NewGenerator(30)
	rule := mondayRule("09:00", "17:00", 30, 0)

	for _, typ := range []ExceptionType{
		ExceptionUnavailable,
		ExceptionHoliday,
		ExceptionVacation,
		ExceptionConference,
		ExceptionEmergency,
	} {
		exc := &AvailabilityException{Type: typ, ExceptionDate: genDay}
		slots, err := gen.ExpandDay(genDay, time.UTC, []WorkingHoursRule{rule}, exc, genNow)
		if err != nil {
			t.Errorf("%s: ExpandDay: %v", typ, err)
			continue
		}
		if len(slots) != 0 {
			t.Errorf("%s exception still produced %d slots", typ, len(slots))
		}
	}
}

func TestExpandDayCustomHoursUsesRuleDuration(t *testing.T) {
	gen := NewGenerator(30)
	rule := mondayRule("09:00", "17:00", 20, 0)
	start, end := "13:00", "14:00"
	exc := &AvailabilityException{
		Type:          ExceptionCustomHours,
		ExceptionDate: genDay,
		CustomStart:   &start,
		CustomEnd:     &end,
	}

	slots, err := gen.ExpandDay(genDay, time.UTC, []WorkingHoursRule{rule}, exc, genNow)
	if err != nil {
		t.Fatalf("ExpandDay: %v", err)
	}
	want := []string{"13:00", "13:20", "13:40"}
	got := starts(slots)
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("slot %d starts at %s, want %s", i, got[i], want[i])
		}
	}
}

func TestExpandDayCustomHoursFallsBackToDefaultDuration(t *testing.T) {
	gen := NewGenerator(45)
	start, end := "09:00", "10:30"
	exc := &AvailabilityException{
		Type:          ExceptionCustomHours,
		ExceptionDate: genDay,
		CustomStart:   &start,
		CustomEnd:     &end,
	}

	// No rule covers Monday, so the generator's default duration applies.
	slots, err := gen.ExpandDay(genDay, time.UTC, nil, exc, genNow)
	if err != nil {
		t.Fatalf("ExpandDay: %v", err)
	}
	if len(slots) != 2 {
		t.Fatalf("got %d slots %v, want 2 at 45m each", len(slots), starts(slots))
	}
	if got := slots[0].SlotEnd.Sub(slots[0].SlotStart); got != 45*time.Minute {
		t.Errorf("slot length = %s, want 45m", got)
	}
}

func TestExpandDaySkipsInactiveAndOtherWeekdayRules(t *testing.T) {
	gen := NewGenerator(30)
	inactive := mondayRule("09:00", "12:00", 30, 0)
	inactive.Active = false
	tuesday := mondayRule("09:00", "12:00", 30, 0)
	tuesday.DayOfWeek = int(time.Tuesday)

	slots, err := gen.ExpandDay(genDay, time.UTC, []WorkingHoursRule{inactive, tuesday}, nil, genNow)
	if err != nil {
		t.Fatalf("ExpandDay: %v", err)
	}
	if len(slots) != 0 {
		t.Fatalf("inactive/off-day rules produced %d slots", len(slots))
	}
}

func TestExpandDayFiltersNonFutureStarts(t *testing.T) {
	gen := NewGenerator(30)
	rule := mondayRule("09:00", "12:00", 30, 0)

	// now exactly at a candidate boundary: 10:00 is not strictly future.
	now := time.Date(genDay.Year(), genDay.Month(), genDay.Day(), 10, 0, 0, 0, time.UTC)
	slots, err := gen.ExpandDay(genDay, time.UTC, []WorkingHoursRule{rule}, nil, now)
	if err != nil {
		t.Fatalf("ExpandDay: %v", err)
	}
	want := []string{"10:30", "11:00", "11:30"}
	got := starts(slots)
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("slot %d starts at %s, want %s", i, got[i], want[i])
		}
	}
}

func TestExpandDayAnchorsClockInLocation(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}

	gen := NewGenerator(30)
	rule := mondayRule("09:00", "10:00", 30, 0)
	day := time.Date(2030, 6, 3, 0, 0, 0, 0, loc)

	slots, err := gen.ExpandDay(day, loc, []WorkingHoursRule{rule}, nil, genNow)
	if err != nil {
		t.Fatalf("ExpandDay: %v", err)
	}
	if len(slots) != 2 {
		t.Fatalf("got %d slots, want 2", len(slots))
	}
	// 09:00 New York in June is 13:00 UTC.
	if got := slots[0].SlotStart.UTC().Format("15:04"); got != "13:00" {
		t.Errorf("first slot at %s UTC, want 13:00", got)
	}
}

func TestDaysBetweenInclusive(t *testing.T) {
	from := time.Date(2030, 6, 3, 14, 30, 0, 0, time.UTC)
	to := time.Date(2030, 6, 6, 2, 0, 0, 0, time.UTC)

	days := DaysBetween(from, to, time.UTC)
	if len(days) != 4 {
		t.Fatalf("got %d days, want 4", len(days))
	}
	for i, d := range days {
		want := time.Date(2030, 6, 3+i, 0, 0, 0, 0, time.UTC)
		if !d.Equal(want) {
			t.Errorf("day %d = %s, want %s", i, d, want)
		}
	}

	single := DaysBetween(from, from, time.UTC)
	if len(single) != 1 {
		t.Fatalf("same-day range yielded %d days, want 1", len(single))
	}
}
