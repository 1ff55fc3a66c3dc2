package mailbox

import (
	"sort"
	"sync/atomic"

	"github.com/anthropics/purple-ethosu/pkg/core"
)

// Msg is the control block for one outstanding request. The correlation id
// travels to the firmware as user_arg and routes the response back here.
// Objects hold their id by value and never a pointer into the registry.
type Msg struct {
	ID uint32

	// Fail is invoked when the firmware is declared dead.
	Fail func()

	// Resend is invoked after a firmware reset to replay the request with
	// the same id. An error fails the message instead.
	Resend func() error

	// Complete is invoked with the parsed response payload.
	Complete func(rsp any)
}

// maxMsgID keeps ids in the non-negative 31 bit range.
const maxMsgID = 1<<31 - 1

// Registry associates correlation ids with outstanding messages. It is not
// internally locked: all access happens under the device mutex. Only the
// live count is atomic, so metrics scrapes can read it without the mutex.
type Registry struct {
	msgs map[uint32]*Msg
	next uint32
	live atomic.Int32
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{msgs: make(map[uint32]*Msg)}
}

// Register allocates a fresh id for the message and stores it. Ids are
// allocated cyclically so that a stale response arriving after an id was
// freed is unlikely to hit its reused successor.
func (r *Registry) Register(msg *Msg) error {
	if len(r.msgs) > maxMsgID {
		return core.NewError(core.StatusResourceExhausted, "message registry full")
	}

	for {
		id := r.next
		r.next = (r.next + 1) & maxMsgID
		if _, used := r.msgs[id]; !used {
			msg.ID = id
			r.msgs[id] = msg
			r.live.Store(int32(len(r.msgs)))
			return nil
		}
	}
}

// Deregister removes the message. Lookups for its id return nothing until
// the id is reused.
func (r *Registry) Deregister(msg *Msg) {
	delete(r.msgs, msg.ID)
	r.live.Store(int32(len(r.msgs)))
}

// Find returns the message registered under id, or nil.
func (r *Registry) Find(id uint32) *Msg {
	return r.msgs[id]
}

// Len returns the number of outstanding messages. Safe to call without the
// device mutex.
func (r *Registry) Len() int {
	return int(r.live.Load())
}

// FailAll invokes Fail on every outstanding message. Used when the firmware
// is declared dead.
func (r *Registry) FailAll() {
	for _, msg := range r.sorted() {
		msg.Fail()
	}
}

// ResendAll invokes Resend on every outstanding message in id order. A
// message whose resend fails is failed instead.
func (r *Registry) ResendAll() {
	for _, msg := range r.sorted() {
		if err := msg.Resend(); err != nil {
			msg.Fail()
		}
	}
}

// sorted snapshots the outstanding messages in id order, so that callbacks
// may deregister entries while the sweep runs.
func (r *Registry) sorted() []*Msg {
	msgs := make([]*Msg, 0, len(r.msgs))
	for _, msg := range r.msgs {
		msgs = append(msgs, msg)
	}
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].ID < msgs[j].ID })
	return msgs
}
