package bufferpool

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQueue_EmptyAfterPops(t *testing.T) {
	t.Parallel()

	var q Queue
	assert.True(t, q.Empty())
	assert.Equal(t, 0, q.Len())

	q.PushCBR([]byte("a"))
	q.PushVBR(PacketDescriptor{ByteSize: 1}, []byte("b"))
	assert.False(t, q.Empty())
	assert.Equal(t, 2, q.Len())

	n1 := q.pop()
	assert.Equal(t, NodeCBR, n1.kind)
	n2 := q.pop()
	assert.Equal(t, NodeVBR, n2.kind)

	assert.True(t, q.Empty(), "invariant 6: queued_tail nils out with queued_head")
	assert.Nil(t, q.pop())
}

func TestQueue_FIFOOrder(t *testing.T) {
	t.Parallel()

	var q Queue
	q.PushCBR([]byte("first"))
	q.PushCBR([]byte("second"))
	q.PushCBR([]byte("third"))

	assert.Equal(t, []byte("first"), q.peekHead().data)
	q.pop()
	assert.Equal(t, []byte("second"), q.peekHead().data)
	q.pop()
	assert.Equal(t, []byte("third"), q.peekHead().data)
}

func TestQueue_PushCopiesData(t *testing.T) {
	t.Parallel()

	var q Queue
	buf := []byte("mutable")
	q.PushCBR(buf)
	buf[0] = 'X'

	assert.Equal(t, byte('m'), q.peekHead().data[0], "Push must copy, since the parser reuses its buffer")
}
