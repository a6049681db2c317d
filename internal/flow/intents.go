package flow

import (
	"regexp"
	"strings"

	"github.com/CedarClinic/ClinicPipe/internal/models"
)

// Intent is the coarse classification of a free-form message in a stable state.
type Intent string

const (
	IntentGreeting   Intent = "greeting"
	IntentBook       Intent = "book"
	IntentReschedule Intent = "reschedule"
	IntentCancel     Intent = "cancel"
	IntentConfirm    Intent = "confirm"
	IntentThanks     Intent = "thanks"
	IntentUnknown    Intent = "unknown"
)

var greetingWords = map[string]bool{
	"hi": true, "hello": true, "hey": true, "hola": true,
	"good": true, "morning": true, "afternoon": true, "evening": true,
	"buenas": true, "buenos": true, "dias": true, "tardes": true, "noches": true,
	"there": true, "team": true, "clinic": true,
}

var bookWords = []string{
	"book", "schedule", "appointment", "reserve", "visit", "agendar", "cita",
	"see the doctor", "come in",
}

var cancelWords = []string{"cancel", "cancelar", "call it off", "drop my appointment"}

var rescheduleWords = []string{"reschedule", "move", "change", "another time", "different time", "cambiar"}

// Matched per word, not per substring, so "book" never triggers "ok".
var confirmWords = map[string]bool{
	"confirm": true, "confirmed": true, "confirmo": true,
	"yes": true, "yep": true, "yeah": true, "ok": true, "okay": true,
	"si": true, "perfect": true, "perfecto": true, "great": true, "correct": true,
}

var thanksWords = map[string]bool{
	"thank": true, "thanks": true, "thx": true, "ty": true, "gracias": true,
}

var nonAlnumRe = regexp.MustCompile(`[^a-z0-9+]+`)

// ClassifyIntent maps a message to an intent. Cancellation and rescheduling
// outrank booking, since "change my appointment" mentions appointments too.
func ClassifyIntent(text string, catalog models.ServiceCatalog) Intent {
	normalized := strings.ToLower(strings.TrimSpace(text))
	if normalized == "" {
		return IntentUnknown
	}
	if containsAny(normalized, cancelWords) {
		return IntentCancel
	}
	if containsAny(normalized, rescheduleWords) {
		return IntentReschedule
	}
	if DetectService(normalized, catalog) != "" || containsAny(normalized, bookWords) {
		return IntentBook
	}
	if hasAnyWord(normalized, thanksWords) {
		return IntentThanks
	}
	if hasAnyWord(normalized, confirmWords) {
		return IntentConfirm
	}
	if isGreetingOnly(normalized) {
		return IntentGreeting
	}
	return IntentUnknown
}

// DetectService finds a catalog service mentioned in the text, by key, title,
// or synonym. Returns the service key, or "" when none matches.
func DetectService(text string, catalog models.ServiceCatalog) string {
	normalized := strings.ToLower(text)
	for _, svc := range catalog {
		if strings.Contains(normalized, strings.ToLower(svc.Key)) ||
			strings.Contains(normalized, strings.ToLower(svc.Title)) {
			return svc.Key
		}
		for _, syn := range svc.Synonyms {
			if strings.Contains(normalized, strings.ToLower(syn)) {
				return svc.Key
			}
		}
	}
	return ""
}

// isGreetingOnly reports whether every word of the message is a greeting word.
// A greeting that also carries a service or booking verb is not a greeting.
func isGreetingOnly(normalized string) bool {
	words := strings.Fields(nonAlnumRe.ReplaceAllString(normalized, " "))
	if len(words) == 0 {
		return false
	}
	for _, w := range words {
		if !greetingWords[w] {
			return false
		}
	}
	return true
}

// hasAnyWord reports whether any whole word of the message is in the set.
func hasAnyWord(normalized string, set map[string]bool) bool {
	for _, w := range strings.Fields(nonAlnumRe.ReplaceAllString(normalized, " ")) {
		if set[w] {
			return true
		}
	}
	return false
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

// ValidateName enforces the minimal patient-name rules: long enough and not
// a bare number (which is far more likely a stray slot ordinal).
func ValidateName(text string) (string, error) {
	name := strings.TrimSpace(text)
	if len([]rune(name)) < models.MinNameLength {
		return "", models.ErrNameTooShort
	}
	digitsOnly := true
	for _, r := range name {
		if r < '0' || r > '9' {
			digitsOnly = false
			break
		}
	}
	if digitsOnly {
		return "", models.ErrNameNumeric
	}
	return name, nil
}

// NormalizePhone canonicalizes a phone number to an optional leading plus and
// digits, enforcing the digit-count bounds.
func NormalizePhone(text string) (string, error) {
	var b strings.Builder
	for i, r := range strings.TrimSpace(text) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '(' || r == ')' || r == '.':
			// separators are dropped
		default:
			return "", models.ErrInvalidPhone
		}
	}
	phone := b.String()
	digits := strings.TrimPrefix(phone, "+")
	if len(digits) < models.MinPhoneDigits || len(digits) > models.MaxPhoneDigits {
		return "", models.ErrInvalidPhone
	}
	return phone, nil
}
