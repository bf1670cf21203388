package agentproc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLineBuffer_JoinsPartialReads(t *testing.T) {
	var lb lineBuffer

	assert.Empty(t, lb.Feed([]byte(`{"type":"sys`)))
	lines := lb.Feed([]byte("tem\"}\n{\"a\":1}\r\n\n{\"b\""))
	assert.Equal(t, [][]byte{[]byte(`{"type":"system"}`), []byte(`{"a":1}`)}, lines)

	lines = lb.Feed([]byte(":2}\n"))
	assert.Equal(t, [][]byte{[]byte(`{"b":2}`)}, lines)
	assert.Nil(t, lb.Flush())
}

func TestLineBuffer_FlushReturnsTrailingPartial(t *testing.T) {
	var lb lineBuffer
	lb.Feed([]byte("no newline at end"))
	assert.Equal(t, []byte("no newline at end"), lb.Flush())
	assert.Nil(t, lb.Flush())
}

func TestStderrRing_KeepsMostRecent(t *testing.T) {
	r := newStderrRing(3)
	r.Add("a")
	r.Add("b")
	assert.Equal(t, []string{"a", "b"}, r.Lines())

	r.Add("c")
	r.Add("d")
	r.Add("e")
	assert.Equal(t, []string{"c", "d", "e"}, r.Lines())
	assert.Equal(t, "c\nd\ne", r.String())
}
