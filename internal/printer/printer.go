// Package printer writes the colored, human-facing output of the databus
// commands. Machine-readable output (JSON, snapshots) goes to stdout
// directly; everything here is meant for stderr.
package printer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/hay-kot/criterio"
)

// ANSI color codes (Tokyo Night palette)
const (
	ColorReset     = "\033[0m"
	ColorRed       = "\033[38;2;215;95;107m"  // #d75f6b
	ColorGreen     = "\033[38;2;158;206;106m" // #9ece6a
	ColorYellow    = "\033[38;2;224;175;104m" // #e0af68
	ColorGray      = "\033[38;2;86;95;137m"   // #565f89
	ColorBold      = "\033[1m"
	ColorUnderline = "\033[4m"
)

const (
	Check = "✔"
	Cross = "✘"
	Dot   = "•"
	Dash  = "–"
)

type ctxKey struct{}

// Printer handles formatted output with colors and styles.
type Printer struct {
	writer io.Writer
}

func New(w io.Writer) *Printer {
	return &Printer{writer: w}
}

// NewContext returns a context with the printer attached.
func NewContext(ctx context.Context, p *Printer) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

// Ctx retrieves the printer from context, or creates one on stderr.
func Ctx(ctx context.Context) *Printer {
	if p, ok := ctx.Value(ctxKey{}).(*Printer); ok {
		return p
	}
	return New(os.Stderr)
}

func (p *Printer) line(s string) {
	_, _ = io.WriteString(p.writer, s+"\n")
}

func colorize(color, text string) string {
	return color + text + ColorReset
}

// hintError attaches a suggested next step to an error.
type hintError struct {
	err  error
	hint string
}

func (e *hintError) Error() string { return e.err.Error() }

func (e *hintError) Unwrap() error { return e.err }

// Hint wraps err with a suggestion that FatalError prints below the message.
// A nil err returns nil.
func Hint(err error, hint string) error {
	if err == nil {
		return nil
	}
	return &hintError{err: err, hint: hint}
}

// FatalError prints err in a box. Config validation errors get one line
// per field and hinted errors end with their hint. It does not exit.
func (p *Printer) FatalError(err error) {
	if err == nil {
		return
	}

	bar := colorize(ColorRed, "│")

	var fieldErrs criterio.FieldErrors
	if errors.As(err, &fieldErrs) {
		p.line(colorize(ColorRed, "╭ Validation Error"))
		if prefix := errorPrefix(err, fieldErrs); prefix != "" {
			p.line(bar + " " + colorize(ColorGray, prefix))
			p.line(bar)
		}
		for _, fe := range fieldErrs {
			msg := fe.Err.Error()
			if fe.Field != "" {
				msg = colorize(ColorGray, fe.Field+": ") + msg
			}
			p.line(bar + " " + colorize(ColorRed, Cross) + " " + msg)
		}
	} else {
		p.line(colorize(ColorRed, "╭ Error"))
		p.line(bar + " " + colorize(ColorGray, err.Error()))
	}

	var hinted *hintError
	if errors.As(err, &hinted) {
		p.line(bar)
		p.line(bar + " " + colorize(ColorYellow, "hint: ") + hinted.hint)
	}

	p.line(colorize(ColorRed, "╵"))
}

// errorPrefix returns the context wrapped around field errors, such as
// "load config: invalid config".
func errorPrefix(err error, fieldErrs criterio.FieldErrors) string {
	full, inner := err.Error(), fieldErrs.Error()
	if i := strings.Index(full, inner); i > 0 {
		return strings.TrimSuffix(full[:i], ": ")
	}
	return ""
}

// Errorf prints an error message in red.
func (p *Printer) Errorf(format string, args ...any) {
	p.line(colorize(ColorRed, Cross+" "+fmt.Sprintf(format, args...)))
}

// Successf prints a success message in green.
func (p *Printer) Successf(format string, args ...any) {
	p.line(colorize(ColorGreen, Check+" "+fmt.Sprintf(format, args...)))
}

// Infof prints an info message in gray.
func (p *Printer) Infof(format string, args ...any) {
	p.line(colorize(ColorGray, Dot+" "+fmt.Sprintf(format, args...)))
}

// Warnf prints a warning message in yellow.
func (p *Printer) Warnf(format string, args ...any) {
	p.line(colorize(ColorYellow, Dot+" "+fmt.Sprintf(format, args...)))
}

// Printf prints a plain message.
func (p *Printer) Printf(format string, args ...any) {
	p.line(fmt.Sprintf(format, args...))
}

// Section prints a bold, underlined header.
func (p *Printer) Section(title string) {
	p.line(ColorBold + ColorUnderline + title + ColorReset)
}

// Level is the outcome a status mark conveys.
type Level int

const (
	LevelOK Level = iota
	LevelWarn
	LevelFail
	LevelSkip
)

func (l Level) mark() (color, symbol string) {
	switch l {
	case LevelOK:
		return ColorGreen, Check
	case LevelWarn:
		return ColorYellow, Dot
	case LevelFail:
		return ColorRed, Cross
	default:
		return ColorGray, Dash
	}
}

// Mark returns the colored symbol for l followed by msg, for table cells.
func Mark(l Level, msg string) string {
	color, symbol := l.mark()
	out := colorize(color, symbol)
	if msg != "" {
		out += " " + msg
	}
	return out
}

// Item prints an indented status line: symbol, label and optional detail.
func (p *Printer) Item(l Level, label, detail string) {
	s := "  " + Mark(l, label)
	if detail != "" {
		s += ": " + detail
	}
	p.line(s)
}

// Detail prints a gray line nested under an Item.
func (p *Printer) Detail(format string, args ...any) {
	p.line("      " + colorize(ColorGray, fmt.Sprintf(format, args...)))
}
