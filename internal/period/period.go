// Package period parses the recurrence and clock-time grammar used by the
// reminder wizard.
package period

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	ErrMalformedPeriod = errors.New("malformed period")
	ErrMalformedTime   = errors.New("malformed time")
)

// PeriodHelp is shown when a period cannot be parsed.
const PeriodHelp = "Specify time period in the following format:\n" +
	"'<amount><symbol>', where symbol is one of the following:\n" +
	"'min' for minutes\n" +
	"'h'   for hours\n" +
	"'d'   for days\n" +
	"'w'   for weeks\n" +
	"'mon' for months\n" +
	"'y'   for years\n" +
	"Example: 1h30min\n"

// TimeHelp is shown when a clock time cannot be parsed.
const TimeHelp = "Specify time in the following format:\n" +
	"'hour:minute:second', minute and second are not required.\n" +
	"Example: 9:30\n"

var (
	periodPattern = regexp.MustCompile(`^(?:\d+[^\d]+)+$`)
	partPattern   = regexp.MustCompile(`(\d+)([^\d]+)`)
)

// Duration is a calendar-aware recurrence interval. A nil *Duration means
// the reminder fires once.
type Duration struct {
	Years   int `json:"years,omitempty"`
	Months  int `json:"months,omitempty"`
	Weeks   int `json:"weeks,omitempty"`
	Days    int `json:"days,omitempty"`
	Hours   int `json:"hours,omitempty"`
	Minutes int `json:"minutes,omitempty"`
	Seconds int `json:"seconds,omitempty"`
}

type unit struct {
	symbol string
	// max bounds the accumulated amount to about a century, which keeps the
	// clock part of AddTo within time.Duration.
	max   int
	field func(d *Duration) *int
}

// units are ordered largest first; String relies on it.
var units = []unit{
	{"y", 100, func(d *Duration) *int { return &d.Years }},
	{"mon", 1200, func(d *Duration) *int { return &d.Months }},
	{"w", 5218, func(d *Duration) *int { return &d.Weeks }},
	{"d", 36525, func(d *Duration) *int { return &d.Days }},
	{"h", 876600, func(d *Duration) *int { return &d.Hours }},
	{"min", 52596000, func(d *Duration) *int { return &d.Minutes }},
}

// add accumulates n into d, rejecting totals above the unit bound.
func (u unit) add(d *Duration, n int) error {
	v := u.field(d)
	if n > u.max || *v+n > u.max {
		return fmt.Errorf("%w: more than %d%s", ErrMalformedPeriod, u.max, u.symbol)
	}
	*v += n
	return nil
}

func lookupUnit(symbol string) (unit, bool) {
	for _, u := range units {
		if u.symbol == symbol {
			return u, true
		}
	}
	return unit{}, false
}

// Parse reads a period such as "1h30min" or "2w 1d". Repeated units add up.
func Parse(text string) (*Duration, error) {
	s := normalize(text)
	if !periodPattern.MatchString(s) {
		return nil, fmt.Errorf("%w: cannot process %q", ErrMalformedPeriod, text)
	}

	d := &Duration{}
	for _, m := range partPattern.FindAllStringSubmatch(s, -1) {
		amount, err := strconv.Atoi(m[1])
		if err != nil {
			return nil, fmt.Errorf("%w: amount %q: %v", ErrMalformedPeriod, m[1], err)
		}
		u, ok := lookupUnit(m[2])
		if !ok {
			return nil, fmt.Errorf("%w: unknown unit %q", ErrMalformedPeriod, m[2])
		}
		if err := u.add(d, amount); err != nil {
			return nil, err
		}
	}
	if d.IsZero() {
		return nil, fmt.Errorf("%w: period must be longer than zero", ErrMalformedPeriod)
	}
	if !d.MovesForward(referenceTime) {
		return nil, fmt.Errorf("%w: %q does not move time forward", ErrMalformedPeriod, text)
	}
	return d, nil
}

// ParseTime reads "H", "H:M" or "H:M:S". Missing parts default to zero.
// Hours must be within 0-23, minutes and seconds within 0-59.
func ParseTime(text string) (hour, minute, second int, err error) {
	s := normalize(text)
	if s == "" {
		return 0, 0, 0, fmt.Errorf("%w: empty input", ErrMalformedTime)
	}
	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0, 0, 0, fmt.Errorf("%w: too many components in %q", ErrMalformedTime, text)
	}

	var values [3]int
	limits := [3]int{23, 59, 59}
	for i, p := range parts {
		n, convErr := strconv.Atoi(p)
		if convErr != nil || n < 0 {
			return 0, 0, 0, fmt.Errorf("%w: %q is not a number", ErrMalformedTime, p)
		}
		if n > limits[i] {
			return 0, 0, 0, fmt.Errorf("%w: %d is out of range", ErrMalformedTime, n)
		}
		values[i] = n
	}
	return values[0], values[1], values[2], nil
}

func normalize(text string) string {
	return strings.ToLower(strings.Join(strings.Fields(text), ""))
}

var referenceTime = time.Date(2000, time.January, 31, 0, 0, 0, 0, time.UTC)

// MovesForward reports whether AddTo(t) lies strictly after t.
func (d Duration) MovesForward(t time.Time) bool {
	return d.AddTo(t).After(t)
}

// IsZero reports whether every component is zero.
func (d Duration) IsZero() bool {
	return d == Duration{}
}

// Add returns the component-wise sum of d and o.
func (d Duration) Add(o Duration) Duration {
	return Duration{
		Years:   d.Years + o.Years,
		Months:  d.Months + o.Months,
		Weeks:   d.Weeks + o.Weeks,
		Days:    d.Days + o.Days,
		Hours:   d.Hours + o.Hours,
		Minutes: d.Minutes + o.Minutes,
		Seconds: d.Seconds + o.Seconds,
	}
}

// AddTo shifts t by d. Years and months keep the day of month, clamped to
// the last day of the target month, so Jan 31 + 1mon is the end of February.
func (d Duration) AddTo(t time.Time) time.Time {
	if d.Years != 0 || d.Months != 0 {
		y, m, day := t.Date()
		target := time.Date(y+d.Years, m+time.Month(d.Months), 1, 0, 0, 0, 0, t.Location())
		if last := daysIn(target.Year(), target.Month(), t.Location()); day > last {
			day = last
		}
		hh, mm, ss := t.Clock()
		t = time.Date(target.Year(), target.Month(), day, hh, mm, ss, t.Nanosecond(), t.Location())
	}
	if days := d.Weeks*7 + d.Days; days != 0 {
		t = t.AddDate(0, 0, days)
	}
	clock := time.Duration(d.Hours)*time.Hour +
		time.Duration(d.Minutes)*time.Minute +
		time.Duration(d.Seconds)*time.Second
	return t.Add(clock)
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}

// String renders d in the input grammar, e.g. "1mon2w".
func (d Duration) String() string {
	if d.IsZero() {
		return "0min"
	}
	values := map[string]int{
		"y": d.Years, "mon": d.Months, "w": d.Weeks, "d": d.Days,
		"h": d.Hours, "min": d.Minutes,
	}
	var sb strings.Builder
	for _, u := range units {
		if n := values[u.symbol]; n != 0 {
			fmt.Fprintf(&sb, "%d%s", n, u.symbol)
		}
	}
	if d.Seconds != 0 {
		fmt.Fprintf(&sb, "%ds", d.Seconds)
	}
	return sb.String()
}
