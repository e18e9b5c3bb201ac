// Package ui formats CLI output. Colors are dropped when NO_COLOR is set or
// the output is not a color-capable terminal.
package ui

import (
	"fmt"
	"os"

	"github.com/fatih/color"
)

// Formatter applies semantic formatting to text.
type Formatter struct {
	color  *color.Color
	prefix string
	suffix string
}

// Sprint formats the arguments and returns the resulting string.
func (f Formatter) Sprint(a ...any) string {
	text := fmt.Sprint(a...)
	if NoColor() {
		return f.prefix + text + f.suffix
	}
	return f.color.Sprint(text)
}

// Sprintf formats according to a format specifier and returns the resulting string.
func (f Formatter) Sprintf(format string, a ...any) string {
	return f.Sprint(fmt.Sprintf(format, a...))
}

// NoColor reports whether color output is disabled.
func NoColor() bool {
	if _, exists := os.LookupEnv("NO_COLOR"); exists {
		return true
	}
	return color.NoColor
}

var (
	// Success marks completed actions. Green.
	Success = Formatter{color.New(color.FgGreen), "", ""}
	// Error marks failures. Red.
	Error = Formatter{color.New(color.FgRed), "", ""}
	// Warning marks cautions. Yellow.
	Warning = Formatter{color.New(color.FgYellow), "", ""}
	// Info marks hints. Cyan.
	Info = Formatter{color.New(color.FgCyan), "", ""}
	// Flag formats CLI flags such as --kdf-profile.
	Flag = Formatter{color.New(color.FgYellow), "", ""}
	// Banner formats the startup banner.
	Banner = Formatter{color.New(color.FgBlue), "", ""}
)
