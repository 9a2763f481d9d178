// Package timeline resolves date tokens in layer templates for temporal layers.
package timeline

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Timeline describes the temporal dimension of a layer. Dates are written in Format.
type Timeline struct {
	Format      string   `json:"format,omitempty" yaml:"format,omitempty"`
	DefaultDate string   `json:"defaultDate" yaml:"defaultDate"`
	MinDate     string   `json:"minDate,omitempty" yaml:"minDate,omitempty"`
	MaxDate     string   `json:"maxDate,omitempty" yaml:"maxDate,omitempty"`
	Period      string   `json:"period,omitempty" yaml:"period,omitempty"`
	Steps       []string `json:"steps,omitempty" yaml:"steps,omitempty"`
}

// Components of a resolved date. Month is zero-based.
type Components struct {
	Day   int
	Month int
	Year  int
}

func ComponentsOf(t time.Time) Components {
	return Components{Day: t.Day(), Month: int(t.Month()) - 1, Year: t.Year()}
}

// Time returns the UTC midnight of the components.
func (c Components) Time() time.Time {
	return time.Date(c.Year, time.Month(c.Month+1), c.Day, 0, 0, 0, 0, time.UTC)
}

// FallbackError reports that the selected date could not be parsed and the
// default date was used instead.
type FallbackError struct {
	Selected string
	Format   string
	Err      error
}

func (e *FallbackError) Error() string {
	return fmt.Sprintf("timeline: date %q does not match format %q, using default date", e.Selected, e.Format)
}

func (e *FallbackError) Unwrap() error { return e.Err }

// isoLayouts are always accepted because the registry stores selected dates as ISO strings.
var isoLayouts = []string{"2006-01-02", time.RFC3339}

// Parse reads s using the timeline format, then ISO layouts.
func (tl Timeline) Parse(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("timeline: empty date")
	}
	if err := CheckFormat(tl.Format); err != nil {
		return time.Time{}, fmt.Errorf("timeline: %w", err)
	}
	t, perr := parseStrftime(s, tl.Format)
	if perr == nil {
		return t, nil
	}
	for _, l := range isoLayouts {
		if t, err := time.Parse(l, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("timeline: %w", perr)
}

// FormatDate renders t in the timeline format.
func (tl Timeline) FormatDate(t time.Time) string {
	if CheckFormat(tl.Format) != nil {
		return t.Format("2006-01-02")
	}
	return formatStrftime(t, tl.Format)
}

// Clamp keeps t within [MinDate, MaxDate] when those parse.
func (tl Timeline) Clamp(t time.Time) time.Time {
	if tl.MinDate != "" {
		if lo, err := tl.Parse(tl.MinDate); err == nil && t.Before(lo) {
			return lo
		}
	}
	if tl.MaxDate != "" {
		if hi, err := tl.Parse(tl.MaxDate); err == nil && t.After(hi) {
			return hi
		}
	}
	return t
}

// Resolve picks the date a template should be rendered with. An empty selected
// date uses DefaultDate silently; an unparsable one falls back to DefaultDate and
// returns a *FallbackError next to the usable components.
func (tl Timeline) Resolve(selected string) (Components, error) {
	var fallback error
	if strings.TrimSpace(selected) != "" {
		t, err := tl.Parse(selected)
		if err == nil {
			return ComponentsOf(t), nil
		}
		fallback = &FallbackError{Selected: selected, Format: tl.Format, Err: err}
	}
	t, err := tl.Parse(tl.DefaultDate)
	if err != nil {
		if fallback != nil {
			return Components{}, fmt.Errorf("%w; default date: %w", fallback, err)
		}
		return Components{}, fmt.Errorf("timeline: default date: %w", err)
	}
	return ComponentsOf(t), fallback
}

// Substitute replaces the date tokens of template with the resolved date.
// It never fails hard: when no date can be resolved the template is returned
// unchanged together with the error.
func Substitute(template string, tl Timeline, selected string) (string, error) {
	c, err := tl.Resolve(selected)
	if c == (Components{}) {
		return template, err
	}
	return Replace(template, c), err
}

// Replace substitutes {year}, {month}, {day} and {date} in template.
// {month} and {day} are the two digit calendar values ("03" for March, from
// the zero-based Month 2); {date} is the ISO calendar date.
func Replace(template string, c Components) string {
	if !strings.Contains(template, "{") {
		return template
	}
	r := strings.NewReplacer(
		"{year}", strconv.Itoa(c.Year),
		"{month}", fmt.Sprintf("%02d", c.Month+1),
		"{day}", fmt.Sprintf("%02d", c.Day),
		"{date}", c.Time().Format("2006-01-02"),
	)
	return r.Replace(template)
}
