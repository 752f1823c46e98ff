// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package parser turns a raw byte stream from a child CLI (a PTY in
// interactive mode, a stdout pipe in headless mode) into a lazy sequence
// of content blocks, dispatching each line to the active adapter.
package parser

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"iter"
	"regexp"

	"perch/internal/adapter"
	"perch/internal/outputschema"
)

// maxLineBuffer bounds how much of one unterminated line the parser will
// buffer before giving up and flushing what it has as a raw block (§8
// boundary case: "a child emitting 1 MB of output without newlines is
// tolerated ... beyond it, flush as a single raw block").
const maxLineBuffer = 16 << 20

// Result is one step of a Parser's output sequence: either content blocks
// extracted from one input chunk, or a fatal read error.
type Result struct {
	Blocks []outputschema.Block
	Err    error
}

// Parser splits a byte stream into lines and classifies each one through
// an Adapter. It carries no conversation identity — the Session Runtime
// tags emitted blocks with the owning conversation before storing and
// publishing them (§4.3).
type Parser struct {
	adapter adapter.Adapter
}

// New returns a Parser bound to one adapter.
func New(a adapter.Adapter) *Parser {
	return &Parser{adapter: a}
}

// Feed reads from r until EOF, ctx cancellation, or a read error, yielding
// a Result per line (or per maxLineBuffer-sized chunk of an unterminated
// line). The sequence stops early if the consumer's yield returns false.
func (p *Parser) Feed(ctx context.Context, r io.Reader) iter.Seq[Result] {
	return func(yield func(Result) bool) {
		br := bufio.NewReaderSize(r, maxLineBuffer)

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			line, err := br.ReadSlice('\n')
			switch {
			case err == nil:
				if !p.emit(trimNewline(line), yield) {
					return
				}

			case errors.Is(err, bufio.ErrBufferFull):
				// Line exceeds maxLineBuffer: flush what we have as raw
				// and keep reading the remainder of this oversized line.
				if !yield(Result{Blocks: []outputschema.Block{outputschema.NewRaw(append([]byte(nil), line...))}}) {
					return
				}

			case errors.Is(err, io.EOF):
				if len(line) > 0 {
					p.emit(trimNewline(line), yield)
				}
				return

			default:
				yield(Result{Err: err})
				return
			}
		}
	}
}

func (p *Parser) emit(line []byte, yield func(Result) bool) bool {
	if len(line) == 0 {
		return true
	}
	blocks := p.parseLine(line)
	if len(blocks) == 0 {
		return true
	}
	return yield(Result{Blocks: blocks})
}

func trimNewline(b []byte) []byte {
	if n := len(b); n > 0 && b[n-1] == '\n' {
		b = b[:n-1]
	}
	if n := len(b); n > 0 && b[n-1] == '\r' {
		b = b[:n-1]
	}
	return b
}

func (p *Parser) parseLine(line []byte) []outputschema.Block {
	switch p.adapter.ParseStrategy() {
	case adapter.JSONLines:
		if json.Valid(line) {
			if blocks, err := p.adapter.ParseJSONEvent(line); err == nil {
				return blocks
			}
		}
		stripped := StripANSI(string(line))
		return []outputschema.Block{p.adapter.ParseTextLine(stripped, string(line))}

	default: // AnsiText
		original := string(line)
		stripped := StripANSI(original)
		if json.Valid([]byte(stripped)) {
			if blocks, err := p.adapter.ParseJSONEvent([]byte(stripped)); err == nil {
				return blocks
			}
		}
		return []outputschema.Block{p.adapter.ParseTextLine(stripped, original)}
	}
}

// ansiRe matches ANSI SGR (color/style) and cursor-movement CSI escape
// sequences: ESC '[' followed by parameter/intermediate bytes and a final
// byte, OSC sequences terminated by BEL, and bare single-character ESC
// sequences. No library in the retrieved corpus exposes a direct
// ANSI-stripping call site (the muesli/reflow/termenv packages present
// transitively belong to a different repo's bubbletea TUI, used for
// width-aware rendering rather than stream sanitization), so this is a
// small stdlib regexp.
var ansiRe = regexp.MustCompile("\x1b(?:\\[[0-9;?]*[a-zA-Z]|\\][^\x07]*\x07|[A-Za-z])")

// StripANSI removes ANSI SGR and cursor-movement escape sequences from s.
func StripANSI(s string) string {
	return ansiRe.ReplaceAllString(s, "")
}
