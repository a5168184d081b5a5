package scheduler

import (
	"errors"
	"fmt"
	"math/bits"
	"strconv"
	"strings"
	"time"
)

// ErrNeverFires is returned for expressions that name no reachable date,
// such as February 30th.
var ErrNeverFires = errors.New("cron expression never fires")

// searchLimit bounds Next. February 29th can be eight years apart when a
// century year skips its leap day.
const searchLimit = 9 * 366 * 24 * time.Hour

var descriptors = map[string]string{
	"@yearly":   "0 0 1 1 *",
	"@annually": "0 0 1 1 *",
	"@monthly":  "0 0 1 * *",
	"@weekly":   "0 0 * * 0",
	"@daily":    "0 0 * * *",
	"@midnight": "0 0 * * *",
	"@hourly":   "0 * * * *",
}

// fieldSet is a bitmask of the values allowed in one cron field.
type fieldSet uint64

func (f fieldSet) has(v int) bool { return f&(1<<uint(v)) != 0 }

func (f fieldSet) count() int { return bits.OnesCount64(uint64(f)) }

type fieldSpec struct {
	name     string
	min, max int
}

var fieldSpecs = [5]fieldSpec{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day", 1, 31},
	{"month", 1, 12},
	{"weekday", 0, 7},
}

// CronSchedule is a parsed five-field cron expression evaluated in the
// location of the time passed to Next.
type CronSchedule struct {
	expr    string
	minute  fieldSet
	hour    fieldSet
	day     fieldSet
	month   fieldSet
	weekday fieldSet

	// Standard cron matches either day field when both are restricted.
	dayAny     bool
	weekdayAny bool
}

// ParseCron parses "minute hour day month weekday" with *, lists, ranges
// and /step, or one of the @-descriptors. Weekday 7 is Sunday.
func ParseCron(expr string) (*CronSchedule, error) {
	trimmed := strings.TrimSpace(expr)
	if d, ok := descriptors[trimmed]; ok {
		trimmed = d
	}
	fields := strings.Fields(trimmed)
	if len(fields) != len(fieldSpecs) {
		return nil, fmt.Errorf("invalid cron expression %q: expected 5 fields, got %d", expr, len(fields))
	}

	var sets [5]fieldSet
	for i, raw := range fields {
		set, err := parseField(raw, fieldSpecs[i])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", fieldSpecs[i].name, err)
		}
		sets[i] = set
	}

	weekday := sets[4]
	if weekday.has(7) {
		weekday = weekday&^(1<<7) | 1
	}

	c := &CronSchedule{
		expr:       expr,
		minute:     sets[0],
		hour:       sets[1],
		day:        sets[2],
		month:      sets[3],
		weekday:    weekday,
		dayAny:     sets[2].count() == 31,
		weekdayAny: weekday.count() == 7,
	}
	if !c.satisfiable() {
		return nil, fmt.Errorf("%q: %w", expr, ErrNeverFires)
	}
	return c, nil
}

func parseField(field string, spec fieldSpec) (fieldSet, error) {
	var set fieldSet
	for _, part := range strings.Split(field, ",") {
		lo, hi, step, err := parseTerm(part, spec)
		if err != nil {
			return 0, err
		}
		for v := lo; v <= hi; v += step {
			set |= 1 << uint(v)
		}
	}
	return set, nil
}

func parseTerm(term string, spec fieldSpec) (lo, hi, step int, err error) {
	step = 1
	rangePart := term
	if base, s, ok := strings.Cut(term, "/"); ok {
		step, err = strconv.Atoi(s)
		if err != nil || step < 1 {
			return 0, 0, 0, fmt.Errorf("invalid step: %s", term)
		}
		rangePart = base
	}

	switch {
	case rangePart == "*":
		lo, hi = spec.min, spec.max
		if spec.name == "weekday" {
			hi = 6
		}
	case strings.Contains(rangePart, "-"):
		a, b, _ := strings.Cut(rangePart, "-")
		lo, err = strconv.Atoi(a)
		if err != nil {
			return 0, 0, 0, fmt.Errorf("invalid range: %s", term)
		}
		hi, err = strconv.Atoi(b)
		if err != nil || lo > hi {
			return 0, 0, 0, fmt.Errorf("invalid range: %s", term)
		}
	default:
		lo, err = strconv.Atoi(rangePart)
		if err != nil {
			return 0, 0, 0, fmt.Errorf("invalid value: %s", term)
		}
		hi = lo
		if step > 1 {
			hi = spec.max
		}
	}

	if lo < spec.min || hi > spec.max {
		return 0, 0, 0, fmt.Errorf("value out of range [%d-%d]: %s", spec.min, spec.max, term)
	}
	return lo, hi, step, nil
}

// satisfiable rejects day/month pairs that no month can hold. A
// restricted weekday always matches some date.
func (c *CronSchedule) satisfiable() bool {
	if c.dayAny || !c.weekdayAny {
		return true
	}
	daysIn := [13]int{0, 31, 29, 31, 30, 31, 30, 31, 31, 30, 31, 30, 31}
	for m := 1; m <= 12; m++ {
		if !c.month.has(m) {
			continue
		}
		for d := 1; d <= daysIn[m]; d++ {
			if c.day.has(d) {
				return true
			}
		}
	}
	return false
}

// String returns the expression the schedule was parsed from.
func (c *CronSchedule) String() string { return c.expr }

func (c *CronSchedule) dayMatches(t time.Time) bool {
	dom := c.day.has(t.Day())
	dow := c.weekday.has(int(t.Weekday()))
	switch {
	case c.dayAny && c.weekdayAny:
		return true
	case c.dayAny:
		return dow
	case c.weekdayAny:
		return dom
	default:
		return dom || dow
	}
}

// Next returns the first matching minute strictly after the given time,
// or the zero time when none exists within the search window.
func (c *CronSchedule) Next(after time.Time) time.Time {
	t := after.Truncate(time.Minute).Add(time.Minute)
	limit := after.Add(searchLimit)
	loc := t.Location()

	for t.Before(limit) {
		if !c.month.has(int(t.Month())) {
			t = time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, loc)
			continue
		}
		if !c.dayMatches(t) {
			t = time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, loc)
			continue
		}
		if !c.hour.has(t.Hour()) {
			t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour()+1, 0, 0, 0, loc)
			continue
		}
		if !c.minute.has(t.Minute()) {
			t = t.Add(time.Minute)
			continue
		}
		return t
	}
	return time.Time{}
}
