package journal

import (
	"regexp"
	"time"
	_ "time/tzdata"

	"github.com/kalambet/timeledger/internal/apperr"
)

// DateLayout is the format of day keys.
const DateLayout = "2006-01-02"

// DefaultTimezone decides which calendar day "today" is when the user has
// not chosen a timezone.
const DefaultTimezone = "Asia/Seoul"

var dateRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// ValidDate reports whether s is a real calendar date in YYYY-MM-DD form.
func ValidDate(s string) bool {
	if !dateRe.MatchString(s) {
		return false
	}
	_, err := time.Parse(DateLayout, s)
	return err == nil
}

// CheckDate returns a ValidationError unless s is a valid day key.
func CheckDate(s string) error {
	if !ValidDate(s) {
		return apperr.Validation("date", "invalid date %q, want YYYY-MM-DD", s)
	}
	return nil
}

// DateIn returns the day key of t in loc.
func DateIn(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(DateLayout)
}

// LoadLocation resolves a timezone name, using DefaultTimezone for an
// empty name.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		name = DefaultTimezone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, apperr.Validation("timezone", "unknown timezone %q", name)
	}
	return loc, nil
}
