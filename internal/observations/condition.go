package observations

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ErrConfiguration reports a filter that is missing, ambiguous or malformed.
var ErrConfiguration = errors.New("observations: invalid filter configuration")

// Kind is the dimension a Condition filters on.
type Kind int

const (
	KindDay Kind = iota + 1
	KindWeather
	KindTime
)

func (k Kind) String() string {
	switch k {
	case KindDay:
		return "day"
	case KindWeather:
		return "weather"
	case KindTime:
		return "time"
	default:
		return "unknown"
	}
}

// ParseKind maps a persisted filter name onto a Kind.
func ParseKind(name string) (Kind, error) {
	switch name {
	case "day":
		return KindDay, nil
	case "weather":
		return KindWeather, nil
	case "time":
		return KindTime, nil
	default:
		return 0, fmt.Errorf("%w: unknown filter name %q", ErrConfiguration, name)
	}
}

// Condition selects observations along exactly one dimension.
// The zero value selects nothing and fails Validate.
// Conditions are comparable with ==.
type Condition struct {
	kind    Kind
	day     int
	weather string
	window  Interval
}

// ByDay selects one day of the week, Monday = 0.
func ByDay(day int) Condition {
	return Condition{kind: KindDay, day: day}
}

// ByWeather selects one weather category. Matching ignores case.
func ByWeather(weather string) Condition {
	return Condition{kind: KindWeather, weather: capitalize(strings.TrimSpace(weather))}
}

// ByTime selects a time-of-day window.
func ByTime(window Interval) Condition {
	return Condition{kind: KindTime, window: window}
}

// Options is the loose form of a condition: exactly one field must be set.
type Options struct {
	Weather *string
	Day     *int
	Time    *Interval
}

// NewCondition builds a Condition from Options.
func NewCondition(opts Options) (Condition, error) {
	set := 0
	for _, present := range []bool{opts.Weather != nil, opts.Day != nil, opts.Time != nil} {
		if present {
			set++
		}
	}
	if set != 1 {
		return Condition{}, fmt.Errorf("%w: exactly one of weather, day or time is required, got %d", ErrConfiguration, set)
	}

	var c Condition
	switch {
	case opts.Weather != nil:
		c = ByWeather(*opts.Weather)
	case opts.Day != nil:
		c = ByDay(*opts.Day)
	default:
		c = ByTime(*opts.Time)
	}
	return c, c.Validate()
}

// ParseCondition parses "day=0", "weather=Clear" or "time=07:00-08:00".
func ParseCondition(s string) (Condition, error) {
	name, value, ok := strings.Cut(s, "=")
	if !ok {
		return Condition{}, fmt.Errorf("%w: expected name=value, got %q", ErrConfiguration, s)
	}
	kind, err := ParseKind(strings.TrimSpace(name))
	if err != nil {
		return Condition{}, err
	}
	value = strings.TrimSpace(value)

	var c Condition
	switch kind {
	case KindDay:
		d, err := strconv.Atoi(value)
		if err != nil {
			return Condition{}, fmt.Errorf("%w: day %q is not an integer", ErrConfiguration, value)
		}
		c = ByDay(d)
	case KindWeather:
		c = ByWeather(value)
	case KindTime:
		start, end, ok := strings.Cut(value, "-")
		if !ok {
			return Condition{}, fmt.Errorf("%w: time window %q is not HH:MM-HH:MM", ErrConfiguration, value)
		}
		iv, err := ParseInterval(start, end)
		if err != nil {
			return Condition{}, err
		}
		c = ByTime(iv)
	}
	return c, c.Validate()
}

// Validate rejects the zero Condition and out-of-range payloads.
func (c Condition) Validate() error {
	switch c.kind {
	case KindDay:
		if c.day < 0 || c.day > 6 {
			return fmt.Errorf("%w: day must be in [0, 6], got %d", ErrConfiguration, c.day)
		}
	case KindWeather:
		if c.weather == "" {
			return fmt.Errorf("%w: empty weather category", ErrConfiguration)
		}
	case KindTime:
		if c.window.Start < 0 || c.window.Start >= minutesPerDay || c.window.End < 0 || c.window.End >= minutesPerDay {
			return fmt.Errorf("%w: time window %s out of range", ErrConfiguration, c.window)
		}
	default:
		return fmt.Errorf("%w: no filter dimension set", ErrConfiguration)
	}
	return nil
}

// Kind returns the filtered dimension.
func (c Condition) Kind() Kind { return c.kind }

// Name returns the persisted filter name: day, weather or time.
func (c Condition) Name() string { return c.kind.String() }

// Day returns the day payload.
func (c Condition) Day() int { return c.day }

// Weather returns the weather payload.
func (c Condition) Weather() string { return c.weather }

// Window returns the time payload.
func (c Condition) Window() Interval { return c.window }

// Match reports whether o passes the condition.
func (c Condition) Match(o Observation) bool {
	switch c.kind {
	case KindDay:
		return o.DayOfWeek == c.day
	case KindWeather:
		return strings.EqualFold(o.Weather, c.weather)
	case KindTime:
		return c.window.Contains(o.Timestamp)
	default:
		return false
	}
}

// Select returns the observations matching c, in table order.
func (c Condition) Select(obs []Observation) []Observation {
	var out []Observation
	for _, o := range obs {
		if c.Match(o) {
			out = append(out, o)
		}
	}
	return out
}

// ValueString renders the payload alone: "0", "Clear" or "07:00-08:00".
func (c Condition) ValueString() string {
	switch c.kind {
	case KindDay:
		return strconv.Itoa(c.day)
	case KindWeather:
		return c.weather
	case KindTime:
		return c.window.String()
	default:
		return ""
	}
}

func (c Condition) String() string {
	return c.Name() + "=" + c.ValueString()
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + strings.ToLower(s[size:])
}
