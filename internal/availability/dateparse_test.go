package availability

import (
	"errors"
	"testing"
	"time"

	"github.com/CedarClinic/ClinicPipe/internal/clinictime"
	"github.com/CedarClinic/ClinicPipe/internal/models"
)

// Monday June 16 2025, 10:00 clinic time.
func parseNow(t *testing.T) (time.Time, *time.Location) {
	t.Helper()
	loc, err := clinictime.LoadZone("America/Mexico_City")
	if err != nil {
		t.Fatalf("LoadZone failed: %v", err)
	}
	return time.Date(2025, 6, 16, 10, 0, 0, 0, loc), loc
}

func TestParseDateExpression(t *testing.T) {
	now, loc := parseNow(t)
	day := func(y int, m time.Month, d int) time.Time {
		return time.Date(y, m, d, 0, 0, 0, 0, loc)
	}

	cases := []struct {
		name     string
		input    string
		wantFrom time.Time
		wantTo   time.Time
	}{
		{"today", "today", day(2025, 6, 16), day(2025, 6, 17)},
		{"tomorrow", "tomorrow", day(2025, 6, 17), day(2025, 6, 18)},
		{"day after tomorrow", "the day after tomorrow", day(2025, 6, 18), day(2025, 6, 19)},
		{"bare weekday", "friday", day(2025, 6, 20), day(2025, 6, 21)},
		{"next weekday", "next friday", day(2025, 6, 20), day(2025, 6, 21)},
		{"same weekday today", "monday", day(2025, 6, 16), day(2025, 6, 17)},
		{"next same weekday", "next monday", day(2025, 6, 23), day(2025, 6, 24)},
		{"month day", "june 20", day(2025, 6, 20), day(2025, 6, 21)},
		{"day month", "20 june", day(2025, 6, 20), day(2025, 6, 21)},
		{"past month day rolls forward", "june 10", day(2026, 6, 10), day(2026, 6, 11)},
		{"numeric day month", "20/6", day(2025, 6, 20), day(2025, 6, 21)},
		{"numeric month day disambiguated", "6/20", day(2025, 6, 20), day(2025, 6, 21)},
		{"in month", "in july", day(2025, 7, 1), day(2025, 8, 1)},
		{"current month clamps to today", "in june", day(2025, 6, 16), day(2025, 7, 1)},
		{"embedded in sentence", "can I come in tomorrow?", day(2025, 6, 17), day(2025, 6, 18)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseDateExpression(tc.input, now, loc)
			if err != nil {
				t.Fatalf("ParseDateExpression(%q) failed: %v", tc.input, err)
			}
			if !got.From.Equal(tc.wantFrom) || !got.To.Equal(tc.wantTo) {
				t.Errorf("ParseDateExpression(%q) = [%v, %v), want [%v, %v)",
					tc.input, got.From, got.To, tc.wantFrom, tc.wantTo)
			}
		})
	}
}

func TestParseDateExpressionUnparseable(t *testing.T) {
	now, loc := parseNow(t)
	for _, input := range []string{"", "whenever", "sometime soonish", "32/13"} {
		if _, err := ParseDateExpression(input, now, loc); !errors.Is(err, models.ErrUnparseableDate) {
			t.Errorf("ParseDateExpression(%q): expected ErrUnparseableDate, got %v", input, err)
		}
	}
}

func TestContainsDateExpression(t *testing.T) {
	now, loc := parseNow(t)
	if !ContainsDateExpression("I'd like a cleaning next friday", now, loc) {
		t.Error("expected date expression to be detected")
	}
	if ContainsDateExpression("I'd like a cleaning", now, loc) {
		t.Error("expected no date expression")
	}
}
