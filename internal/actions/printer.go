package actions

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/dopplerhq/secrets-fetch-action/logger"
)

// Printer is a logger.Printer for the Actions log. Warnings and errors
// become annotations, debug messages become ::debug:: commands (shown only
// when step debugging is on) and everything else is printed as-is.
type Printer struct {
	Writer io.Writer

	mu sync.Mutex
}

func NewPrinter(w io.Writer) *Printer {
	return &Printer{Writer: w}
}

func (p *Printer) Print(level logger.Level, msg string, fields logger.Fields) {
	var b strings.Builder
	b.WriteString(msg)
	for _, field := range fields {
		fmt.Fprintf(&b, " %s=%s", field.Key(), field.String())
	}
	line := b.String()

	p.mu.Lock()
	defer p.mu.Unlock()

	switch level {
	case logger.DEBUG:
		_ = issueCommand(p.Writer, "debug", nil, line)
	case logger.WARN:
		_ = issueCommand(p.Writer, "warning", nil, line)
	case logger.ERROR, logger.FATAL:
		_ = issueCommand(p.Writer, "error", nil, line)
	default:
		_, _ = io.WriteString(p.Writer, line+"\n")
	}
}
