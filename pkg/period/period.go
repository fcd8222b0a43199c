// Package period turns filing period keys into date ranges and due dates.
//
// Supported keys: monthly "2024-03", quarterly "2024Q1" and annual "2024".
package period

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
)

// Granularity enum constants
const (
	Monthly   = "MONTHLY"
	Quarterly = "QUARTERLY"
	Annual    = "ANNUAL"
)

var ErrInvalidPeriodKey = eris.New("period: invalid period key")

var (
	monthlyKey   = regexp.MustCompile(`^(\d{4})-(0[1-9]|1[0-2])$`)
	quarterlyKey = regexp.MustCompile(`^(\d{4})Q([1-4])$`)
	annualKey    = regexp.MustCompile(`^(\d{4})$`)
)

// Period is a closed date range [Start, End], both at UTC midnight.
type Period struct {
	Key         string
	Granularity string
	Start       time.Time
	End         time.Time
}

// Parse resolves a period key into its date range.
func Parse(key string) (Period, error) {
	if m := monthlyKey.FindStringSubmatch(key); m != nil {
		year, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		start := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
		return Period{Key: key, Granularity: Monthly, Start: start, End: start.AddDate(0, 1, -1)}, nil
	}
	if m := quarterlyKey.FindStringSubmatch(key); m != nil {
		year, _ := strconv.Atoi(m[1])
		q, _ := strconv.Atoi(m[2])
		start := time.Date(year, time.Month((q-1)*3+1), 1, 0, 0, 0, 0, time.UTC)
		return Period{Key: key, Granularity: Quarterly, Start: start, End: start.AddDate(0, 3, -1)}, nil
	}
	if m := annualKey.FindStringSubmatch(key); m != nil {
		year, _ := strconv.Atoi(m[1])
		start := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
		return Period{Key: key, Granularity: Annual, Start: start, End: start.AddDate(1, 0, -1)}, nil
	}
	return Period{}, eris.Wrapf(ErrInvalidPeriodKey, "%q", key)
}

// Contains reports whether the date falls inside the period.
func (p Period) Contains(date time.Time) bool {
	d := Day(date)
	return !d.Before(p.Start) && !d.After(p.End)
}

// DueDate returns the filing deadline of the period.
// Monthly and quarterly returns are due in the month after the period ends, annual returns
// three months after. dueDay is clamped to the month length; 0 means the last day.
func (p Period) DueDate(frequency string, dueDay int) time.Time {
	offset := 1
	if frequency == Annual || p.Granularity == Annual {
		offset = 3
	}
	firstOfEndMonth := time.Date(p.End.Year(), p.End.Month(), 1, 0, 0, 0, 0, time.UTC)
	dueMonth := firstOfEndMonth.AddDate(0, offset, 0)
	last := dueMonth.AddDate(0, 1, -1).Day()
	day := dueDay
	if day <= 0 || day > last {
		day = last
	}
	return time.Date(dueMonth.Year(), dueMonth.Month(), day, 0, 0, 0, 0, time.UTC)
}

// KeyFor returns the period key of the given granularity containing date.
func KeyFor(date time.Time, granularity string) string {
	switch granularity {
	case Quarterly:
		return fmt.Sprintf("%04dQ%d", date.Year(), (int(date.Month())-1)/3+1)
	case Annual:
		return fmt.Sprintf("%04d", date.Year())
	default:
		return date.Format("2006-01")
	}
}

// Day truncates a timestamp to its UTC calendar day.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
