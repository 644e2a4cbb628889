// Package multiline implements the Multiline Parser (spec.md §4.D): it
// accumulates non-blank lines of pretty-printed JSON, attempts a parse after
// each new line, and yields one event at a time only once the accumulated
// block both parses and validates. No sanitization runs during
// accumulation; only the resulting object's string leaves are sanitized
// after a successful parse.
package multiline

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/cowrieproc/ingestcore/internal/model"
	"github.com/cowrieproc/ingestcore/internal/sanitize"
	"github.com/cowrieproc/ingestcore/internal/validate"
)

// DefaultMaxLines bounds accumulation before a block is flushed to the DLQ
// (spec.md §4.D default 100).
const DefaultMaxLines = 100

// Event is one yielded (start_offset, event) pair.
type Event struct {
	StartOffset int64
	Payload     model.Payload
	Validation  validate.Result
}

// Overflow is reported when an accumulated block exceeds MaxLines without
// ever producing a valid event; the caller is expected to route the raw
// bytes to the dead-letter queue and the parser resets.
type Overflow struct {
	StartOffset int64
	Raw         []byte
}

// Parser accumulates lines from a single stream.
type Parser struct {
	MaxLines int

	buf         []string
	startOffset int64
	offset      int64
	haveStart   bool
}

// New returns a Parser with the default line bound.
func New() *Parser {
	return &Parser{MaxLines: DefaultMaxLines}
}

// feed adds one line to the accumulated block and attempts a parse. lineStart
// is the byte offset of the line's first byte within the stream, used to
// stamp StartOffset on the block's first line. Blank lines are ignored. It
// returns an event once the block parses and validates, or an overflow once
// the block exceeds MaxLines; otherwise it keeps accumulating.
//
// Scan drives feed over a whole reader and does the byte-offset accounting.
func (p *Parser) feed(line string, lineStart int64) (*Event, *Overflow, error) {
	if strings.TrimSpace(line) == "" {
		return nil, nil, nil
	}
	if !p.haveStart {
		p.startOffset = lineStart
		p.haveStart = true
	}
	p.buf = append(p.buf, line)

	if len(p.buf) > p.MaxLines {
		ov := &Overflow{StartOffset: p.startOffset, Raw: []byte(strings.Join(p.buf, "\n"))}
		p.reset()
		return nil, ov, nil
	}

	joined := strings.Join(p.buf, "\n")
	var raw map[string]any
	if err := json.Unmarshal([]byte(joined), &raw); err != nil {
		// Not yet a complete/valid JSON object; keep accumulating.
		return nil, nil, nil
	}

	payload := model.Payload(raw)
	res := validate.Event(payload)
	if !res.Valid {
		// Parses as JSON but isn't a valid Cowrie event yet (e.g. a partial
		// object that happens to be syntactically closed); keep
		// accumulating in case more lines are needed, up to MaxLines.
		return nil, nil, nil
	}

	sanitized, _ := sanitize.Payload(payload)
	ev := &Event{StartOffset: p.startOffset, Payload: sanitized, Validation: res}
	p.reset()
	return ev, nil, nil
}

func (p *Parser) reset() {
	p.buf = p.buf[:0]
	p.haveStart = false
}

// Scan drives a full multiline parse over r, invoking onEvent for each
// yielded event and onOverflow for each flushed-without-success block.
// startAt is the byte offset of the first byte of r within its source file
// (non-zero for a resumed read). Lines are assumed newline-terminated; the
// final partial block at EOF (if any) is reported via onOverflow so the
// caller can decide whether to treat a truncated tail as DLQ-worthy.
func Scan(r io.Reader, startAt int64, onEvent func(Event) error, onOverflow func(Overflow) error) error {
	p := New()
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	offset := startAt
	for sc.Scan() {
		line := sc.Text()
		lineStart := offset
		offset += int64(len(line)) + 1 // +1 for the newline the scanner stripped

		ev, ov, err := p.feed(line, lineStart)
		if err != nil {
			return err
		}
		if ev != nil {
			if err := onEvent(*ev); err != nil {
				return err
			}
		}
		if ov != nil {
			if err := onOverflow(*ov); err != nil {
				return err
			}
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("multiline scan: %w", err)
	}

	if len(p.buf) > 0 {
		// Trailing accumulated lines that never resolved to a valid event
		// by EOF: surface as an overflow so nothing is silently dropped.
		ov := Overflow{StartOffset: p.startOffset, Raw: []byte(strings.Join(p.buf, "\n"))}
		if err := onOverflow(ov); err != nil {
			return err
		}
	}
	return nil
}
