package clinictime

import (
	"testing"
	"time"
)

func mustZone(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := LoadZone(name)
	if err != nil {
		t.Fatalf("LoadZone(%q) failed: %v", name, err)
	}
	return loc
}

func TestLoadZoneDefault(t *testing.T) {
	loc, err := LoadZone("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loc.String() != DefaultZone {
		t.Errorf("expected %q, got %q", DefaultZone, loc.String())
	}
}

func TestLoadZoneInvalid(t *testing.T) {
	if _, err := LoadZone("Not/AZone"); err == nil {
		t.Error("expected error for invalid zone")
	}
}

func TestDayStartIgnoresProcessZone(t *testing.T) {
	loc := mustZone(t, "America/New_York")
	// 02:30 UTC on June 15 is still June 14 in New York.
	utc := time.Date(2025, 6, 15, 2, 30, 0, 0, time.UTC)
	start := DayStart(utc, loc)
	if got := start.In(loc); got.Day() != 14 || got.Hour() != 0 || got.Minute() != 0 {
		t.Errorf("expected New York midnight June 14, got %v", got)
	}
}

func TestNextDayAcrossDST(t *testing.T) {
	loc := mustZone(t, "America/New_York")
	// March 8 2025 -> March 9 2025 (spring forward, 23-hour day).
	day := time.Date(2025, 3, 8, 0, 0, 0, 0, loc)
	next := NextDay(day, loc)
	if next.In(loc).Day() != 9 || next.In(loc).Hour() != 0 {
		t.Errorf("expected midnight March 9, got %v", next.In(loc))
	}
	if got := next.Sub(day); got != 23*time.Hour {
		t.Errorf("expected a 23h day across spring forward, got %v", got)
	}
}

func TestAtClock(t *testing.T) {
	loc := mustZone(t, "America/Mexico_City")
	day := time.Date(2025, 6, 16, 15, 42, 0, 0, loc)
	got, err := AtClock(day, "09:00", loc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2025, 6, 16, 9, 0, 0, 0, loc)
	if !got.Equal(want) {
		t.Errorf("expected %v, got %v", want, got)
	}

	if _, err := AtClock(day, "25:99", loc); err == nil {
		t.Error("expected error for invalid clock string")
	}
}

func TestRoundUpToStep(t *testing.T) {
	loc := mustZone(t, "America/Mexico_City")
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"already aligned", "09:00", "09:00"},
		{"rounds up", "09:10", "09:30"},
		{"one minute past", "09:31", "10:00"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			day := time.Date(2025, 6, 16, 0, 0, 0, 0, loc)
			in, _ := AtClock(day, tc.in, loc)
			want, _ := AtClock(day, tc.want, loc)
			got := RoundUpToStep(in, 30*time.Minute, loc)
			if !got.Equal(want) {
				t.Errorf("RoundUpToStep(%s) = %v, want %v", tc.in, got.In(loc), want.In(loc))
			}
		})
	}
}

func TestSameLocalDate(t *testing.T) {
	loc := mustZone(t, "America/New_York")
	a := time.Date(2025, 6, 15, 2, 30, 0, 0, time.UTC) // June 14 local
	b := time.Date(2025, 6, 14, 20, 0, 0, 0, time.UTC) // June 14 local
	c := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC) // June 15 local
	if !SameLocalDate(a, b, loc) {
		t.Error("expected a and b on the same local date")
	}
	if SameLocalDate(a, c, loc) {
		t.Error("expected a and c on different local dates")
	}
}
