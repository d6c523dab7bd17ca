// Package locale renders dates the way French-speaking operators read them.
package locale

import (
	"fmt"
	"strings"
	"time"

	pkgerrors "github.com/climbclub/ticketdesk/pkg/errors"
)

// DayLayout is the DD-MM-YYYY form operators type into export dialogs.
const DayLayout = "02-01-2006"

var months = [...]string{
	"janvier", "février", "mars", "avril", "mai", "juin",
	"juillet", "août", "septembre", "octobre", "novembre", "décembre",
}

// DateTime renders "02/01/2025 14:03:00".
func DateTime(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("02/01/2006 15:04:05")
}

// Date renders "02/01/2025".
func Date(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("02/01/2006")
}

// LongDate renders "2 janvier 2025".
func LongDate(t time.Time, loc *time.Location) string {
	t = t.In(loc)
	return fmt.Sprintf("%d %s %d", t.Day(), months[t.Month()-1], t.Year())
}

// ParseDay reads a DD-MM-YYYY day as local midnight in loc.
func ParseDay(value string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(DayLayout, strings.TrimSpace(value), loc)
	if err != nil {
		return time.Time{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, fmt.Sprintf("date %q must be DD-MM-YYYY", value))
	}
	return t, nil
}

// DayRange turns two DD-MM-YYYY days into [start of from, end of to].
func DayRange(from, to string, loc *time.Location) (time.Time, time.Time, error) {
	start, err := ParseDay(from, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := ParseDay(to, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, pkgerrors.New(pkgerrors.CodeValidation, "end date is before start date")
	}
	return start, end.AddDate(0, 0, 1).Add(-time.Nanosecond), nil
}
