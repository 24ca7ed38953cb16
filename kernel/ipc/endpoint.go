package ipc

import (
	"github.com/HTRMC/Graphene-Kernel/kernel"
	"github.com/HTRMC/Graphene-Kernel/kernel/capability"
	"github.com/HTRMC/Graphene-Kernel/kernel/obj"
	"github.com/HTRMC/Graphene-Kernel/kernel/sched"
)

var (
	// ErrEndpointClosed is returned by Send/Recv against a closed endpoint.
	ErrEndpointClosed = &kernel.Error{Module: "ipc", Message: "endpoint is closed"}
	// ErrQueueFull is returned by an async Send once the pending queue is at PendingCapacity.
	ErrQueueFull = &kernel.Error{Module: "ipc", Message: "pending message queue is full"}
	// ErrCapTransferDenied is returned when a referenced slot lacks the Grant right.
	ErrCapTransferDenied = &kernel.Error{Module: "ipc", Message: "source capability lacks grant right"}
)

// pendingMsg is a message parked in an async endpoint's queue. Capability
// transfer is deferred until a receiver actually dequeues it (spec §4.9
// "on delivery"), so the sender's table reference travels with the message
// rather than being resolved eagerly against a receiver that doesn't exist yet.
type pendingMsg struct {
	msg  Message
	caps *capability.Table
}

// waitingSender is a thread parked on an endpoint's send queue because no
// receiver was available and the endpoint is synchronous. Its message is
// staged here rather than "on its kernel stack" (spec §4.9) since this
// control-block model has no stack to stage into.
type waitingSender struct {
	thread sched.Schedulable
	caps   *capability.Table
	msg    Message
}

// waitingReceiver is a thread parked on an endpoint's receive queue with
// nothing pending. out points at the caller's own Message, so a later Send
// can hand off directly into it without a further round trip.
type waitingReceiver struct {
	thread sched.Schedulable
	caps   *capability.Table
	out    *Message
}

// Endpoint is one rendezvous point (spec §3 "IPC endpoint"): a receiver
// FIFO, a sender FIFO, a bounded pending queue, an optional partner link,
// and open/async flags.
type Endpoint struct {
	Hdr obj.Header

	Async   bool
	closed  bool
	partner *Endpoint

	pending   []pendingMsg
	senders   []*waitingSender
	receivers []*waitingReceiver
}

// NewEndpoint returns an open endpoint. async selects the queueing
// behavior described by spec §4.9's Send protocol.
func NewEndpoint(async bool) *Endpoint {
	return &Endpoint{Hdr: obj.Header{Type: obj.TypeEndpoint}, Async: async}
}

// Header satisfies capability.Object so a capability can reference an endpoint.
func (e *Endpoint) Header() *obj.Header { return &e.Hdr }

// Closed reports whether close_endpoint has been called on this endpoint.
func (e *Endpoint) Closed() bool { return e.closed }

// Partner returns the endpoint's channel counterpart, or nil if it was
// created standalone.
func (e *Endpoint) Partner() *Endpoint { return e.partner }

// PendingLen reports how many messages are queued (async only).
func (e *Endpoint) PendingLen() int { return len(e.pending) }

// SenderQueueLen reports how many threads are parked waiting to send.
func (e *Endpoint) SenderQueueLen() int { return len(e.senders) }

// ReceiverQueueLen reports how many threads are parked waiting to receive.
func (e *Endpoint) ReceiverQueueLen() int { return len(e.receivers) }

// transferCaps performs the capability transfer described by spec §4.9
// "Capability transfer": each slot must carry Grant in the sender's table,
// or the whole message fails; on partial success followed by a later
// failure, already-copied receiver entries are rolled back. On success
// msg.CapSlots is rewritten from source slot numbers to the destination
// slot numbers they now occupy in receiverCaps.
func transferCaps(msg *Message, senderCaps, receiverCaps *capability.Table) *kernel.Error {
	if len(msg.CapSlots) == 0 || senderCaps == nil || receiverCaps == nil {
		msg.CapSlots = nil
		return nil
	}
	inserted := make([]int, 0, len(msg.CapSlots))
	for _, slotIdx := range msg.CapSlots {
		dst, err := senderCaps.Grant(slotIdx, receiverCaps)
		if err != nil {
			for _, d := range inserted {
				receiverCaps.Delete(d)
			}
			return ErrCapTransferDenied
		}
		inserted = append(inserted, dst)
	}
	msg.CapSlots = inserted
	return nil
}

// deliver runs capability transfer against the receiver's table and, on
// success, writes the fully-resolved message into out. On failure out is
// left untouched, so an aborted transfer never leaks a half-written buffer.
func deliver(msg Message, senderCaps, receiverCaps *capability.Table, out *Message) *kernel.Error {
	if err := transferCaps(&msg, senderCaps, receiverCaps); err != nil {
		return err
	}
	*out = msg
	return nil
}

// SendResult reports how Send disposed of a message.
type SendResult int

const (
	// SendDelivered means a waiting receiver got the message immediately.
	SendDelivered SendResult = iota
	// SendQueued means the message was accepted into the async pending queue.
	SendQueued
	// SendBlocked means the caller must park sender on this endpoint's wait
	// queue and block it; the message is staged and will be delivered by a
	// future Recv.
	SendBlocked
)

// Send implements spec §4.9's Send protocol. sender identifies the calling
// thread (used only to park it on SendBlocked; Send never touches its
// state itself) and senderCaps is its capability table, consulted for any
// slots msg.CapSlots references.
//
// On SendDelivered the returned Schedulable is the receiver that was woken
// and should be moved back onto the run queue by the caller. On
// SendBlocked or SendQueued the returned Schedulable is nil.
func (e *Endpoint) Send(sender sched.Schedulable, senderCaps *capability.Table, msg Message) (SendResult, sched.Schedulable, *kernel.Error) {
	if err := msg.validate(); err != nil {
		return SendBlocked, nil, err
	}
	if e.closed {
		return SendBlocked, nil, ErrEndpointClosed
	}
	if len(e.receivers) > 0 {
		wr := e.receivers[0]
		if err := deliver(msg, senderCaps, wr.caps, wr.out); err != nil {
			// The receiver never actually took delivery; leave it parked.
			return SendBlocked, nil, err
		}
		e.receivers = e.receivers[1:]
		return SendDelivered, wr.thread, nil
	}
	if e.Async {
		if len(e.pending) >= PendingCapacity {
			return SendBlocked, nil, ErrQueueFull
		}
		e.pending = append(e.pending, pendingMsg{msg: msg, caps: senderCaps})
		return SendQueued, nil, nil
	}
	e.senders = append(e.senders, &waitingSender{thread: sender, caps: senderCaps, msg: msg})
	return SendBlocked, nil, nil
}

// RecvResult reports how Recv resolved a receive request.
type RecvResult int

const (
	// RecvImmediate means out was filled synchronously.
	RecvImmediate RecvResult = iota
	// RecvBlocked means the caller must park receiver on this endpoint's
	// wait queue and block it.
	RecvBlocked
)

// Recv implements spec §4.9's Receive protocol. receiverCaps is consulted
// as the destination table for any capability transfer. On RecvImmediate
// where a waiting sender was consumed, the returned Schedulable is that
// sender, which the caller should move back onto the run queue.
func (e *Endpoint) Recv(receiver sched.Schedulable, receiverCaps *capability.Table, out *Message) (RecvResult, sched.Schedulable, *kernel.Error) {
	if len(e.pending) > 0 {
		pm := e.pending[0]
		if err := deliver(pm.msg, pm.caps, receiverCaps, out); err != nil {
			// Leave the message queued; a bad transfer must not silently drop it.
			return RecvBlocked, nil, err
		}
		e.pending = e.pending[1:]
		return RecvImmediate, nil, nil
	}
	if len(e.senders) > 0 {
		ws := e.senders[0]
		if err := deliver(ws.msg, ws.caps, receiverCaps, out); err != nil {
			// The sender never actually delivered; leave it parked.
			return RecvBlocked, nil, err
		}
		e.senders = e.senders[1:]
		return RecvImmediate, ws.thread, nil
	}
	if e.closed {
		return RecvBlocked, nil, ErrEndpointClosed
	}
	e.receivers = append(e.receivers, &waitingReceiver{thread: receiver, caps: receiverCaps, out: out})
	return RecvBlocked, nil, nil
}

// Close implements close_endpoint (spec §4.9 "Close"): marks the endpoint
// closed and returns every thread parked on either wait queue, which the
// caller must wake with an EndpointClosed error.
func (e *Endpoint) Close() []sched.Schedulable {
	e.closed = true
	woken := make([]sched.Schedulable, 0, len(e.senders)+len(e.receivers))
	for _, s := range e.senders {
		woken = append(woken, s.thread)
	}
	for _, r := range e.receivers {
		woken = append(woken, r.thread)
	}
	e.senders = nil
	e.receivers = nil
	return woken
}

// RemoveSender cancels a specific thread's parked send (spec §5
// "Cancellation": removal by the thread's process being destroyed).
func (e *Endpoint) RemoveSender(thread sched.Schedulable) bool {
	for i, s := range e.senders {
		if s.thread == thread {
			e.senders = append(e.senders[:i], e.senders[i+1:]...)
			return true
		}
	}
	return false
}

// RemoveReceiver cancels a specific thread's parked receive.
func (e *Endpoint) RemoveReceiver(thread sched.Schedulable) bool {
	for i, r := range e.receivers {
		if r.thread == thread {
			e.receivers = append(e.receivers[:i], e.receivers[i+1:]...)
			return true
		}
	}
	return false
}

// Channel is a pair of endpoints cross-referenced as partners (spec §3
// "Channel"). A shared memory object is an optional extension point left
// for the capability layer (the memory object itself is a Region-backed
// obj.Type, not something Channel needs to own).
type Channel struct {
	A, B *Endpoint
}

// NewChannel returns a channel of two endpoints, each other's partner.
func NewChannel(async bool) *Channel {
	a := NewEndpoint(async)
	b := NewEndpoint(async)
	a.partner = b
	b.partner = a
	return &Channel{A: a, B: b}
}
