// Package protocol parses the line oriented stdout stream of the image processor.
//
// The processor reports its state with two kinds of lines
//
//	PROGRESS <current> <total>
//	ERROR:<message>
//
// every other line is a human readable log line and is ignored.
package protocol

import (
	"bytes"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/GoodPhotographer/goodphotographer/internal/model"
)

const (
	progressPrefix = "PROGRESS"
	errorPrefix    = "ERROR:"

	// MaxLineLength bounds the carried partial line. Longer lines are dropped.
	MaxLineLength = 1 << 20
)

var progressRx = regexp.MustCompile(`^PROGRESS\s+(\d+)\s+(\d+)`)

// Parser is an io.Writer splitting the written bytes into lines. Bytes after
// the last newline are carried over to the next Write, so each line is parsed
// exactly once, however the stream is chunked.
type Parser struct {
	carry    []byte
	overlong bool
	state    model.ProgressEvent
	onEvent  func(model.ProgressEvent)
}

// NewParser returns a parser starting from {0, total}. onEvent is called after
// every line which changes the state, it may be nil.
func NewParser(total int, onEvent func(model.ProgressEvent)) *Parser {
	return &Parser{
		state: model.ProgressEvent{
			Total:  total,
			Errors: []string{},
		},
		onEvent: onEvent,
	}
}

// Write never fails, a malformed line is ignored.
func (p *Parser) Write(chunk []byte) (int, error) {
	n := len(chunk)
	for len(chunk) > 0 {
		idx := bytes.IndexByte(chunk, '\n')
		if idx < 0 {
			p.appendCarry(chunk)
			break
		}
		p.appendCarry(chunk[:idx])
		p.endLine()
		chunk = chunk[idx+1:]
	}
	return n, nil
}

// Flush parses the unterminated rest of the stream. Call it once at EOF.
func (p *Parser) Flush() {
	if len(p.carry) > 0 || p.overlong {
		p.endLine()
	}
}

// State returns a copy of the accumulated state.
func (p *Parser) State() model.ProgressEvent {
	return p.state.Clone()
}

func (p *Parser) appendCarry(b []byte) {
	if p.overlong {
		return
	}
	if len(p.carry)+len(b) > MaxLineLength {
		p.overlong = true
		p.carry = p.carry[:0]
		return
	}
	p.carry = append(p.carry, b...)
}

func (p *Parser) endLine() {
	line := p.carry
	overlong := p.overlong
	p.carry = p.carry[:0]
	p.overlong = false
	if overlong {
		return
	}
	if p.parseLine(string(bytes.TrimSuffix(line, []byte{'\r'}))) && p.onEvent != nil {
		p.onEvent(p.state.Clone())
	}
}

// parseLine applies one complete line and reports whether the state changed.
func (p *Parser) parseLine(line string) bool {
	switch {
	case strings.HasPrefix(line, progressPrefix):
		current, total, ok := ParseProgress(line)
		if !ok {
			return false
		}
		p.state.Current = current
		p.state.Total = total
		return true
	case strings.HasPrefix(line, errorPrefix):
		p.state.Errors = append(p.state.Errors, ParseError(line))
		return true
	default:
		return false
	}
}

// ParseProgress recognizes "PROGRESS <current> <total>".
func ParseProgress(line string) (current, total int, ok bool) {
	m := progressRx.FindStringSubmatch(line)
	if m == nil {
		return 0, 0, false
	}
	current, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, 0, false
	}
	total, err = strconv.Atoi(m[2])
	if err != nil {
		return 0, 0, false
	}
	return current, total, true
}

// ParseError returns the message of an "ERROR:" line with leading whitespace removed.
// The line must have the prefix.
func ParseError(line string) string {
	return strings.TrimLeftFunc(strings.TrimPrefix(line, errorPrefix), unicode.IsSpace)
}
