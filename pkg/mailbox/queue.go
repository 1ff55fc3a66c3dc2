// Package mailbox implements the message transport between the host and the
// Ethos-U firmware: two shared-memory ring queues, a registry correlating
// outstanding requests with their responses, and the typed send paths for
// every message the firmware understands.
package mailbox

import (
	"errors"
	"sync/atomic"
	"unsafe"

	"github.com/anthropics/purple-ethosu/pkg/core"
)

// queueHeaderSize is the size of the queue header in shared memory:
// size, read and write as uint32.
const queueHeaderSize = 12

// Sentinel values written to the inbound queue header before a firmware
// reset. The firmware publishes real values when it has booted.
const (
	sentinelIndex uint32 = 0xffffff
)

// ErrQueueEmpty reports that a read found no message. It means the queue is
// drained, not that anything went wrong.
var ErrQueueEmpty = errors.New("queue empty")

// Queue is one shared-memory ring. The header is shared with the firmware:
// the writer side owns the write index, the reader side owns the read index,
// and the foreign index is always loaded atomically.
type Queue struct {
	size  *uint32
	read  *uint32
	write *uint32
	data  []byte
}

// NewQueue wraps a mapped shared-memory region as a queue. The region must
// be 4-byte aligned and large enough for the header.
func NewQueue(mem []byte) (*Queue, error) {
	if len(mem) < queueHeaderSize {
		return nil, core.NewError(core.StatusInvalidArgument, "queue memory smaller than header")
	}
	if uintptr(unsafe.Pointer(&mem[0]))%4 != 0 {
		return nil, core.NewError(core.StatusInvalidArgument, "queue memory not 4-byte aligned")
	}
	return &Queue{
		size:  (*uint32)(unsafe.Pointer(&mem[0])),
		read:  (*uint32)(unsafe.Pointer(&mem[4])),
		write: (*uint32)(unsafe.Pointer(&mem[8])),
		data:  mem[queueHeaderSize:],
	}, nil
}

// Size returns the payload size published in the queue header.
func (q *Queue) Size() uint32 {
	return atomic.LoadUint32(q.size)
}

// Capacity returns the number of bytes the queue can hold. One byte is kept
// free so that read == write always means empty.
func (q *Queue) Capacity() uint32 {
	size := q.Size()
	if size == 0 {
		return 0
	}
	return size - 1
}

// Available returns the number of unread bytes in the queue.
func (q *Queue) Available() uint32 {
	size := q.Size()
	if size == 0 {
		return 0
	}
	read := atomic.LoadUint32(q.read)
	write := atomic.LoadUint32(q.write)
	if read >= size || write >= size {
		return 0
	}
	if read > write {
		return write + size - read
	}
	return write - read
}

// Free returns the number of bytes that can be written without overtaking
// the read index.
func (q *Queue) Free() uint32 {
	return q.Capacity() - q.Available()
}

// Read copies len(dst) bytes out of the queue and advances the read index.
// The read is all or nothing: if the queue holds no message ErrQueueEmpty is
// returned, and if it holds fewer bytes than requested the read index is left
// alone and an invalid frame error is returned so the caller can reset the
// queue.
func (q *Queue) Read(dst []byte) error {
	if len(dst) == 0 {
		return nil
	}

	avail := q.Available()
	if avail == 0 {
		return ErrQueueEmpty
	}
	if uint32(len(dst)) > avail {
		return core.NewError(core.StatusInvalidFrame, "truncated message in queue")
	}

	size := q.Size()
	if size > uint32(len(q.data)) {
		return core.NewError(core.StatusInvalidFrame, "queue size exceeds mapped region")
	}

	rpos := atomic.LoadUint32(q.read)
	for i := range dst {
		dst[i] = q.data[rpos]
		rpos = (rpos + 1) % size
	}
	atomic.StoreUint32(q.read, rpos)

	return nil
}

// Write copies the given vectors into the queue back to back and advances
// the write index once, so the firmware never observes a partial message.
// Returns a no-space error if the message does not fit.
func (q *Queue) Write(vecs ...[]byte) error {
	size := q.Size()
	if size == 0 || size > uint32(len(q.data)) {
		return core.NewError(core.StatusNoSpace, "queue not initialized")
	}

	var total int
	for _, v := range vecs {
		total += len(v)
	}
	if uint32(total) > q.Free() {
		return core.NewError(core.StatusNoSpace, "message does not fit in queue")
	}

	wpos := atomic.LoadUint32(q.write)
	for _, v := range vecs {
		for _, b := range v {
			q.data[wpos] = b
			wpos = (wpos + 1) % size
		}
	}
	atomic.StoreUint32(q.write, wpos)

	return nil
}

// Reset drops all unread bytes by advancing the read index to the write
// index.
func (q *Queue) Reset() {
	atomic.StoreUint32(q.read, atomic.LoadUint32(q.write))
}

// InitSentinel writes the pre-reset sentinel header. The firmware overwrites
// it with real values when it has initialized, which HeaderValid detects.
func (q *Queue) InitSentinel() {
	atomic.StoreUint32(q.size, 0)
	atomic.StoreUint32(q.read, sentinelIndex)
	atomic.StoreUint32(q.write, sentinelIndex)
}

// PublishHeader writes a fresh header: the payload size is set and both
// indices cleared. This is the firmware's half of the boot handshake; the
// host only calls it when standing in for the firmware.
func (q *Queue) PublishHeader(size uint32) {
	atomic.StoreUint32(q.read, 0)
	atomic.StoreUint32(q.write, 0)
	atomic.StoreUint32(q.size, size)
}

// HeaderValid reports whether the firmware has published a usable header.
func (q *Queue) HeaderValid() bool {
	size := q.Size()
	read := atomic.LoadUint32(q.read)
	write := atomic.LoadUint32(q.write)

	return size != 0 && size <= uint32(len(q.data)) &&
		read != sentinelIndex && write != sentinelIndex &&
		read < size && write < size
}
