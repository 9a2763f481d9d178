package timeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/itchyny/timefmt-go"
)

// DefaultFormat is used when a timeline declares no format.
const DefaultFormat = "%m/%d/%Y"

// directives a timeline format may use; time of day is accepted so
// timestamps parse, though only the calendar date is substituted
const directives = "YymdejbBhaAHIMSpFDT%"

// CheckFormat reports whether format only uses supported strftime directives.
func CheckFormat(format string) error {
	if format == "" {
		return nil
	}
	for i := 0; i < len(format); i++ {
		if format[i] != '%' {
			continue
		}
		i++
		if i >= len(format) {
			return fmt.Errorf("format %q: trailing %%", format)
		}
		if !strings.ContainsRune(directives, rune(format[i])) {
			return fmt.Errorf("format %q: unsupported directive %%%c", format, format[i])
		}
	}
	return nil
}

func formatOrDefault(format string) string {
	if format == "" {
		return DefaultFormat
	}
	return format
}

func parseStrftime(s, format string) (time.Time, error) {
	format = formatOrDefault(format)
	if err := CheckFormat(format); err != nil {
		return time.Time{}, err
	}
	t, err := timefmt.Parse(s, format)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %q with %q: %w", s, format, err)
	}
	return t, nil
}

func formatStrftime(t time.Time, format string) string {
	return timefmt.Format(t, formatOrDefault(format))
}
