package availability

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/CedarClinic/ClinicPipe/internal/clinictime"
	"github.com/CedarClinic/ClinicPipe/internal/models"
)

var weekdayNames = map[string]time.Weekday{
	"sunday": time.Sunday, "sun": time.Sunday,
	"monday": time.Monday, "mon": time.Monday,
	"tuesday": time.Tuesday, "tue": time.Tuesday, "tues": time.Tuesday,
	"wednesday": time.Wednesday, "wed": time.Wednesday,
	"thursday": time.Thursday, "thu": time.Thursday, "thurs": time.Thursday,
	"friday": time.Friday, "fri": time.Friday,
	"saturday": time.Saturday, "sat": time.Saturday,
}

var monthNames = map[string]time.Month{
	"january": time.January, "jan": time.January,
	"february": time.February, "feb": time.February,
	"march": time.March, "mar": time.March,
	"april": time.April, "apr": time.April,
	"may":  time.May,
	"june": time.June, "jun": time.June,
	"july": time.July, "jul": time.July,
	"august": time.August, "aug": time.August,
	"september": time.September, "sep": time.September, "sept": time.September,
	"october": time.October, "oct": time.October,
	"november": time.November, "nov": time.November,
	"december": time.December, "dec": time.December,
}

var numericDateRe = regexp.MustCompile(`\b(\d{1,2})[/-](\d{1,2})\b`)

// ParseDateExpression maps free text ("tomorrow", "next friday", "june 14",
// "14/6", "in june") to a concrete [from, to) range in clinic-local time.
// The expression may be embedded in a longer message. Returns
// models.ErrUnparseableDate when no expression is recognized.
func ParseDateExpression(text string, now time.Time, loc *time.Location) (models.TimeRange, error) {
	normalized := strings.ToLower(strings.TrimSpace(text))
	tokens := tokenize(normalized)

	if strings.Contains(normalized, "day after tomorrow") {
		return dayRange(clinictime.AddDays(now, 2, loc), loc), nil
	}
	if hasToken(tokens, "tomorrow") || hasToken(tokens, "manana") || strings.Contains(normalized, "mañana") {
		return dayRange(clinictime.AddDays(now, 1, loc), loc), nil
	}
	if hasToken(tokens, "today") || hasToken(tokens, "tonight") || hasToken(tokens, "hoy") {
		return dayRange(clinictime.DayStart(now, loc), loc), nil
	}
	if strings.Contains(normalized, "next week") {
		start := nextWeekday(now, time.Monday, true, loc)
		return models.TimeRange{From: start, To: clinictime.AddDays(start, 7, loc)}, nil
	}
	if strings.Contains(normalized, "this week") {
		return models.TimeRange{
			From: clinictime.DayStart(now, loc),
			To:   clinictime.AddDays(now, 7, loc),
		}, nil
	}

	for i, tok := range tokens {
		wd, ok := weekdayNames[tok]
		if !ok {
			continue
		}
		next := i > 0 && tokens[i-1] == "next"
		return dayRange(nextWeekday(now, wd, next, loc), loc), nil
	}

	if r, ok := parseMonthExpression(tokens, now, loc); ok {
		return r, nil
	}
	if m := numericDateRe.FindStringSubmatch(normalized); m != nil {
		if r, ok := parseNumericDate(m[1], m[2], now, loc); ok {
			return r, nil
		}
	}

	return models.TimeRange{}, models.ErrUnparseableDate
}

// ContainsDateExpression reports whether the text carries a parseable date,
// used when a service request and a date arrive in one message.
func ContainsDateExpression(text string, now time.Time, loc *time.Location) bool {
	_, err := ParseDateExpression(text, now, loc)
	return err == nil
}

func tokenize(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9' || r == '/' || r == '-' || r == ':')
	})
}

func hasToken(tokens []string, want string) bool {
	for _, t := range tokens {
		if t == want {
			return true
		}
	}
	return false
}

func dayRange(dayStart time.Time, loc *time.Location) models.TimeRange {
	return models.TimeRange{From: dayStart, To: clinictime.NextDay(dayStart, loc)}
}

// nextWeekday returns the start of the coming occurrence of wd. A bare weekday
// on that same weekday means today; with the "next" qualifier it means a week out.
func nextWeekday(now time.Time, wd time.Weekday, next bool, loc *time.Location) time.Time {
	days := (int(wd) - int(clinictime.Weekday(now, loc)) + 7) % 7
	if days == 0 && next {
		days = 7
	}
	return clinictime.AddDays(now, days, loc)
}

// parseMonthExpression handles "june 14", "14 june", and bare "june"/"in june".
// A month or date already past rolls forward to the next year.
func parseMonthExpression(tokens []string, now time.Time, loc *time.Location) (models.TimeRange, bool) {
	for i, tok := range tokens {
		month, ok := monthNames[tok]
		if !ok {
			continue
		}
		day := 0
		if i+1 < len(tokens) {
			if d, err := strconv.Atoi(tokens[i+1]); err == nil && d >= 1 && d <= 31 {
				day = d
			}
		}
		if day == 0 && i > 0 {
			if d, err := strconv.Atoi(tokens[i-1]); err == nil && d >= 1 && d <= 31 {
				day = d
			}
		}

		lt := now.In(loc)
		year := lt.Year()
		if day > 0 {
			date := time.Date(year, month, day, 0, 0, 0, 0, loc)
			if date.Before(clinictime.DayStart(now, loc)) {
				date = time.Date(year+1, month, day, 0, 0, 0, 0, loc)
			}
			return dayRange(date, loc), true
		}

		monthStart := time.Date(year, month, 1, 0, 0, 0, 0, loc)
		monthEnd := time.Date(year, month+1, 1, 0, 0, 0, 0, loc)
		if monthEnd.Before(now) {
			monthStart = time.Date(year+1, month, 1, 0, 0, 0, 0, loc)
			monthEnd = time.Date(year+1, month+1, 1, 0, 0, 0, 0, loc)
		}
		from := monthStart
		if now.After(from) {
			from = clinictime.DayStart(now, loc)
		}
		return models.TimeRange{From: from, To: monthEnd}, true
	}
	return models.TimeRange{}, false
}

// parseNumericDate handles "14/6" style tokens. When both numbers could be a
// month, day-first wins (clinic locale); otherwise the value over 12 is the day.
func parseNumericDate(first, second string, now time.Time, loc *time.Location) (models.TimeRange, bool) {
	a, err1 := strconv.Atoi(first)
	b, err2 := strconv.Atoi(second)
	if err1 != nil || err2 != nil {
		return models.TimeRange{}, false
	}

	day, month := a, b
	if a <= 12 && b > 12 {
		day, month = b, a
	}
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return models.TimeRange{}, false
	}

	lt := now.In(loc)
	date := time.Date(lt.Year(), time.Month(month), day, 0, 0, 0, 0, loc)
	if date.Day() != day {
		// Normalization moved the date; the day was out of range for the month.
		return models.TimeRange{}, false
	}
	if date.Before(clinictime.DayStart(now, loc)) {
		date = time.Date(lt.Year()+1, time.Month(month), day, 0, 0, 0, 0, loc)
	}
	return dayRange(date, loc), true
}
