// Package dates canonicalizes the date strings found in the directory and in
// import files, and provides the non-regressive merge helpers used when an
// import row meets an existing record.
//
// Dates are carried everywhere as canonical "yyyy-MM-dd" strings, so
// lexicographic comparison equals chronological comparison.
package dates

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	dErrors "memberdir/pkg/domain-errors"
)

// Canonical is the storage layout for every date field.
const Canonical = "2006-01-02"

// layouts accepted from import files, tried in order. Non-padded layouts
// accept both "3/4/2021" and "03/04/2021".
var layouts = []string{
	"2006-01-02", // ISO
	"2/1/2006",   // dd/MM/yyyy and d/M/yyyy
	"2006/1/2",   // yyyy/MM/dd
	"2-Jan-2006", // dd-MMM-yyyy and d-MMM-yyyy
	"2-1-2006",   // dd-MM-yyyy and d-M-yyyy
}

var (
	bareYearRe     = regexp.MustCompile(`^\d{4}$`)
	shortMonthYrRe = regexp.MustCompile(`^(\d{1,2})-([A-Za-z]{3})-(\d{2})$`)
)

// Parse canonicalizes a raw date string to "yyyy-MM-dd".
//
// An empty string parses to itself without error. A two-digit year with a
// month name ("23-Feb-53") is always read as 20yy, never 19yy: membership
// paperwork uses short years only on recent documents, so the usual
// library century pivot would misfile them. This rule is deliberate and must
// not be replaced by time.Parse's own heuristic.
//
// Unparseable input returns a validation-coded error; callers are expected to
// keep the raw string in the field and surface the issue rather than drop the
// value.
func Parse(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", nil
	}

	// Short year with month name, forced into the 2000s.
	if m := shortMonthYrRe.FindStringSubmatch(trimmed); m != nil {
		yy, _ := strconv.Atoi(m[3])
		expanded := fmt.Sprintf("%s-%s-%d", m[1], m[2], 2000+yy)
		if t, err := time.Parse("2-Jan-2006", expanded); err == nil {
			return t.Format(Canonical), nil
		}
		return "", dErrors.Newf(dErrors.CodeValidation, "unparseable date %q", raw)
	}

	// Bare year becomes January 1st, sanity-bounded so a stray member number
	// in a date column cannot masquerade as a year.
	if bareYearRe.MatchString(trimmed) {
		year, _ := strconv.Atoi(trimmed)
		if year < 1800 || year > 2200 {
			return "", dErrors.Newf(dErrors.CodeValidation, "year %q out of range", raw)
		}
		return fmt.Sprintf("%04d-01-01", year), nil
	}

	for _, layout := range layouts {
		if t, err := time.Parse(layout, trimmed); err == nil {
			return t.Format(Canonical), nil
		}
	}
	return "", dErrors.Newf(dErrors.CodeValidation, "unparseable date %q", raw)
}

// LaterOf merges two canonical dates, keeping the later one. An absent side
// yields the other, so a stored date is never regressed by a blank import
// cell.
func LaterOf(oldDate, newDate string) string {
	if oldDate == "" {
		return newDate
	}
	if newDate == "" {
		return oldDate
	}
	if newDate > oldDate {
		return newDate
	}
	return oldDate
}

// HigherOf merges two ordinal enum values given their ordering (lowest
// first), keeping the higher one. Values missing from the ordering rank below
// everything, so an unknown imported level can never downgrade a known one.
func HigherOf(oldLevel, newLevel string, ordering []string) string {
	if oldLevel == "" {
		return newLevel
	}
	if newLevel == "" {
		return oldLevel
	}
	if rankOf(newLevel, ordering) > rankOf(oldLevel, ordering) {
		return newLevel
	}
	return oldLevel
}

func rankOf(level string, ordering []string) int {
	for i, l := range ordering {
		if strings.EqualFold(l, level) {
			return i
		}
	}
	return -1
}

// MaxOf returns the latest of the given canonical dates, ignoring blanks.
func MaxOf(values ...string) string {
	max := ""
	for _, v := range values {
		max = LaterOf(max, v)
	}
	return max
}

// AddOneYear shifts a canonical date forward one year. Returns an error for
// non-canonical input; renewal math must never run on an unparsed string.
func AddOneYear(date string) (string, error) {
	t, err := time.Parse(Canonical, date)
	if err != nil {
		return "", dErrors.Newf(dErrors.CodeValidation, "not a canonical date: %q", date)
	}
	return t.AddDate(1, 0, 0).Format(Canonical), nil
}
