package flow

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/CedarClinic/ClinicPipe/internal/models"
)

var (
	ordinalRe = regexp.MustCompile(`^\s*(\d{1,2})\s*\.?\s*$`)
	clockRe   = regexp.MustCompile(`\b(\d{1,2})(?::(\d{2}))?\s*(am|pm)?\b`)
)

// ParseSlotChoice resolves a reply against the displayed slot list. Accepted
// forms, in order: the canonical slot ID (interactive selection), a bare
// ordinal into the list, and a clock time. A bare number is always an ordinal
// and never an hour; clock times need a colon or an am/pm marker.
func ParseSlotChoice(text, selectionID string, slots []models.Slot, loc *time.Location) (*models.Slot, error) {
	if len(slots) == 0 {
		return nil, models.ErrNoSlotMatch
	}

	if selectionID != "" {
		for i := range slots {
			if slots[i].ID == selectionID {
				return &slots[i], nil
			}
		}
		return nil, models.ErrNoSlotMatch
	}

	normalized := strings.ToLower(strings.TrimSpace(text))
	if m := ordinalRe.FindStringSubmatch(normalized); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 1 || n > len(slots) {
			return nil, models.ErrNoSlotMatch
		}
		return &slots[n-1], nil
	}

	// "a.m."/"p.m." collapse to am/pm before clock matching.
	if hour, minute, exact, ok := parseClock(strings.ReplaceAll(normalized, ".", "")); ok {
		for i := range slots {
			lt := slots[i].Start.In(loc)
			if lt.Minute() != minute {
				continue
			}
			if lt.Hour() == hour {
				return &slots[i], nil
			}
			// "4:00" with no am/pm also means 16:00 when the morning
			// reading is not on offer.
			if !exact && hour < 12 && lt.Hour() == hour+12 {
				return &slots[i], nil
			}
		}
		return nil, models.ErrNoSlotMatch
	}

	return nil, models.ErrNoSlotMatch
}

// parseClock extracts a wall-clock time from text. exact is true when an
// am/pm marker pinned the hour.
func parseClock(normalized string) (hour, minute int, exact, ok bool) {
	m := clockRe.FindStringSubmatch(normalized)
	if m == nil {
		return 0, 0, false, false
	}
	// A match with neither colon nor meridiem is just a number, not a time.
	if m[2] == "" && m[3] == "" {
		return 0, 0, false, false
	}
	h, err := strconv.Atoi(m[1])
	if err != nil || h > 23 {
		return 0, 0, false, false
	}
	if m[2] != "" {
		if minute, err = strconv.Atoi(m[2]); err != nil || minute > 59 {
			return 0, 0, false, false
		}
	}
	switch m[3] {
	case "pm":
		if h < 12 {
			h += 12
		}
		exact = true
	case "am":
		if h == 12 {
			h = 0
		}
		exact = true
	}
	return h, minute, exact, true
}
