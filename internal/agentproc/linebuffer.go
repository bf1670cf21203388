package agentproc

import (
	"bytes"
	"strings"
	"sync"
)

// maxLineSize caps a single buffered line; larger lines are flushed as-is.
const maxLineSize = 10 * 1024 * 1024

// lineBuffer joins partial reads into complete newline-terminated lines.
type lineBuffer struct {
	buf []byte
}

// Feed appends a chunk and returns every line it completed, without the trailing newline.
func (b *lineBuffer) Feed(chunk []byte) [][]byte {
	b.buf = append(b.buf, chunk...)
	var lines [][]byte
	for {
		idx := bytes.IndexByte(b.buf, '\n')
		if idx < 0 {
			break
		}
		line := bytes.TrimRight(b.buf[:idx], "\r")
		if len(bytes.TrimSpace(line)) > 0 {
			lines = append(lines, append([]byte(nil), line...))
		}
		b.buf = b.buf[idx+1:]
	}
	if len(b.buf) > maxLineSize {
		lines = append(lines, append([]byte(nil), b.buf...))
		b.buf = nil
	}
	if len(b.buf) == 0 {
		b.buf = nil
	}
	return lines
}

// Flush returns whatever partial line is left once the stream ended.
func (b *lineBuffer) Flush() []byte {
	rest := bytes.TrimSpace(b.buf)
	b.buf = nil
	if len(rest) == 0 {
		return nil
	}
	return append([]byte(nil), rest...)
}

// stderrRing keeps the most recent stderr lines.
type stderrRing struct {
	mu    sync.Mutex
	lines []string
	next  int
	full  bool
}

func newStderrRing(size int) *stderrRing {
	if size <= 0 {
		size = 50
	}
	return &stderrRing{lines: make([]string, size)}
}

func (r *stderrRing) Add(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines[r.next] = line
	r.next = (r.next + 1) % len(r.lines)
	if r.next == 0 {
		r.full = true
	}
}

// Lines returns the retained lines, oldest first.
func (r *stderrRing) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.full {
		return append([]string(nil), r.lines[:r.next]...)
	}
	out := make([]string, 0, len(r.lines))
	out = append(out, r.lines[r.next:]...)
	return append(out, r.lines[:r.next]...)
}

func (r *stderrRing) String() string {
	return strings.Join(r.Lines(), "\n")
}
