// Package console writes program output lines. Each call produces complete
// lines in a single write so concurrent callers never interleave.
package console

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
)

type Printer struct {
	l *log.Logger
}

// Stdout is the process-wide printer.
var Stdout = New(os.Stdout)

func New(w io.Writer) *Printer {
	if w == nil {
		w = io.Discard
	}
	return &Printer{l: log.New(w, "", 0)}
}

// Printf writes one formatted line.
func (p *Printer) Printf(format string, v ...interface{}) {
	p.l.Output(2, fmt.Sprintf(format, v...))
}

// Block writes lines as one unit.
func (p *Printer) Block(lines ...string) {
	if len(lines) == 0 {
		return
	}
	p.l.Output(2, strings.Join(lines, "\n"))
}
