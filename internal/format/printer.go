// Package format prints JSON elements for people to read.
package format

import (
	"fmt"
	"io"
)

// The Printer interface is used by the Encoder to output text.
//
// Indent() starts a new line at an increased indentation level
// Dedent() starts a new line at a decreased indentation level
// NewLine() starts a new line at the current indentation level
// PrintBytes() outputs bytes at the current position
// EndValue() terminates a top-level value
//
// The methods do not return an error: failing to write the output is
// exceptional and the only thing to do is to stop.  Implementations panic with
// a *PrinterError instead, which callers capture with
//
//	func printSomething(p Printer) (err error) {
//	    defer CatchPrinterError(&err)
//	    ...
//	}
type Printer interface {
	Indent()
	Dedent()
	NewLine()
	PrintBytes([]byte)
	EndValue()
}

// CatchPrinterError recovers from a panic caused by a Printer failing to
// write and stores the error in *err.  Other panics are propagated.
func CatchPrinterError(err *error) {
	if r := recover(); r != nil {
		perr, ok := r.(*PrinterError)
		if !ok {
			panic(r)
		}
		*err = perr
	}
}

// A PrinterError wraps the error a Printer got from its output.
type PrinterError struct {
	Err error
}

func (e *PrinterError) Error() string {
	return fmt.Sprintf("printer error: %s", e.Err)
}

func (e *PrinterError) Unwrap() error {
	return e.Err
}

// DefaultPrinter writes to an io.Writer, using IndentSize spaces per
// indentation level.  If IndentSize is negative, NewLine does nothing so each
// value is printed on a single line.
type DefaultPrinter struct {
	io.Writer
	IndentSize int

	// If set, Flush is called at the end of each value.
	Flusher interface{ Flush() error }

	indentLevel int
}

var _ Printer = &DefaultPrinter{}

func (p *DefaultPrinter) NewLine() {
	if p.IndentSize < 0 {
		return
	}
	p.PrintBytes(newLineBytes)
	for i := p.IndentSize * p.indentLevel; i > 0; i-- {
		p.PrintBytes(spaceBytes)
	}
}

func (p *DefaultPrinter) Indent() {
	p.indentLevel++
	p.NewLine()
}

func (p *DefaultPrinter) Dedent() {
	p.indentLevel--
	p.NewLine()
}

func (p *DefaultPrinter) PrintBytes(b []byte) {
	if _, err := p.Write(b); err != nil {
		panic(&PrinterError{Err: err})
	}
}

// EndValue writes a new line (even when IndentSize is negative) and resets
// the indentation level.
func (p *DefaultPrinter) EndValue() {
	p.indentLevel = 0
	p.PrintBytes(newLineBytes)
	if p.Flusher != nil {
		if err := p.Flusher.Flush(); err != nil {
			panic(&PrinterError{Err: err})
		}
	}
}

var (
	newLineBytes = []byte{'\n'}
	spaceBytes   = []byte{' '}
)
