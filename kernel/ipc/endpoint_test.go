package ipc

import (
	"testing"

	"github.com/HTRMC/Graphene-Kernel/kernel/capability"
	"github.com/HTRMC/Graphene-Kernel/kernel/obj"
	"github.com/HTRMC/Graphene-Kernel/kernel/sched"
)

type testThread struct {
	name   string
	entity sched.Entity
}

func (t *testThread) SchedEntity() *sched.Entity { return &t.entity }

type testObj struct {
	hdr obj.Header
}

func (o *testObj) Header() *obj.Header { return &o.hdr }

func TestRendezvousReceiverFirst(t *testing.T) {
	ep := NewEndpoint(false)
	a := &testThread{name: "A"}
	b := &testThread{name: "B"}

	var buf Message
	res, woken, err := ep.Recv(a, capability.New(), &buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res != RecvBlocked || woken != nil {
		t.Fatalf("expected the first recv to block with no message waiting, got %v/%v", res, woken)
	}

	res2, woken2, err := ep.Send(b, capability.New(), Message{Tag: 1, Payload: []byte("PING")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res2 != SendDelivered {
		t.Fatalf("expected SendDelivered, got %v", res2)
	}
	if woken2 != sched.Schedulable(a) {
		t.Fatal("expected the parked receiver to be woken")
	}
	if string(buf.Payload) != "PING" {
		t.Fatalf("expected the receiver's buffer to hold PING, got %q", buf.Payload)
	}
	if ep.ReceiverQueueLen() != 0 {
		t.Fatal("expected the receiver queue to be drained")
	}
}

func TestRendezvousSenderFirst(t *testing.T) {
	ep := NewEndpoint(false)
	a := &testThread{name: "A"}
	b := &testThread{name: "B"}

	res, woken, err := ep.Send(a, capability.New(), Message{Tag: 1, Payload: []byte("PING")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res != SendBlocked || woken != nil {
		t.Fatalf("expected the sender to block, got %v/%v", res, woken)
	}
	if ep.SenderQueueLen() != 1 {
		t.Fatal("expected the sender to be parked")
	}

	var buf Message
	res2, woken2, err := ep.Recv(b, capability.New(), &buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res2 != RecvImmediate {
		t.Fatalf("expected RecvImmediate, got %v", res2)
	}
	if woken2 != sched.Schedulable(a) {
		t.Fatal("expected the parked sender to be woken")
	}
	if string(buf.Payload) != "PING" {
		t.Fatalf("expected the receiver's buffer to hold PING, got %q", buf.Payload)
	}
	if ep.SenderQueueLen() != 0 {
		t.Fatal("expected the sender queue to be drained")
	}
}

func TestAsyncQueueFillsAndDrainsFIFO(t *testing.T) {
	ep := NewEndpoint(true)
	sender := &testThread{name: "S"}

	for i := 0; i < PendingCapacity; i++ {
		res, _, err := ep.Send(sender, capability.New(), Message{Tag: uint32(i)})
		if err != nil {
			t.Fatalf("unexpected error queuing message %d: %v", i, err)
		}
		if res != SendQueued {
			t.Fatalf("expected SendQueued for message %d, got %v", i, res)
		}
	}

	if _, _, err := ep.Send(sender, capability.New(), Message{Tag: 99}); err != ErrQueueFull {
		t.Fatalf("expected ErrQueueFull on the 17th send, got %v", err)
	}

	var buf Message
	receiver := &testThread{name: "R"}
	res, _, err := ep.Recv(receiver, capability.New(), &buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res != RecvImmediate || buf.Tag != 0 {
		t.Fatalf("expected the first queued message (tag 0) FIFO-first, got tag %d", buf.Tag)
	}
}

func TestSendToClosedEndpointFails(t *testing.T) {
	ep := NewEndpoint(false)
	ep.Close()

	if _, _, err := ep.Send(&testThread{}, capability.New(), Message{}); err != ErrEndpointClosed {
		t.Fatalf("expected ErrEndpointClosed, got %v", err)
	}
}

func TestCloseWakesParkedSender(t *testing.T) {
	ep := NewEndpoint(false)
	sndr := &testThread{name: "sndr"}
	ep.Send(sndr, capability.New(), Message{})

	woken := ep.Close()
	if len(woken) != 1 || woken[0] != sched.Schedulable(sndr) {
		t.Fatalf("expected the parked sender to be woken by close, got %v", woken)
	}
}

func TestCloseWakesParkedReceiver(t *testing.T) {
	ep := NewEndpoint(false)
	rcvr := &testThread{name: "rcvr"}
	var buf Message
	ep.Recv(rcvr, capability.New(), &buf)

	woken := ep.Close()
	if len(woken) != 1 || woken[0] != sched.Schedulable(rcvr) {
		t.Fatalf("expected the parked receiver to be woken by close, got %v", woken)
	}
}

func TestCapabilityTransferRequiresGrant(t *testing.T) {
	ep := NewEndpoint(false)
	senderCaps := capability.New()
	receiverCaps := capability.New()

	o := &testObj{hdr: obj.Header{Type: obj.TypeChannel}}
	slot, _ := senderCaps.Insert(o, capability.Read|capability.Write)

	receiver := &testThread{name: "R"}
	var buf Message
	ep.Recv(receiver, receiverCaps, &buf)

	if _, _, err := ep.Send(&testThread{}, senderCaps, Message{CapSlots: []int{slot}}); err != ErrCapTransferDenied {
		t.Fatalf("expected ErrCapTransferDenied without Grant right, got %v", err)
	}
}

func TestCapabilityTransferInstallsCapabilityInReceiver(t *testing.T) {
	ep := NewEndpoint(false)
	senderCaps := capability.New()
	receiverCaps := capability.New()

	o := &testObj{hdr: obj.Header{Type: obj.TypeChannel}}
	slot, _ := senderCaps.Insert(o, capability.Read|capability.Grant)

	receiver := &testThread{name: "R"}
	var buf Message
	ep.Recv(receiver, receiverCaps, &buf)

	res, _, err := ep.Send(&testThread{}, senderCaps, Message{CapSlots: []int{slot}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res != SendDelivered {
		t.Fatalf("expected SendDelivered, got %v", res)
	}
	if len(buf.CapSlots) != 1 {
		t.Fatalf("expected one resolved destination slot, got %d", len(buf.CapSlots))
	}
	if _, err := receiverCaps.Lookup(buf.CapSlots[0], obj.TypeChannel, capability.Read); err != nil {
		t.Fatalf("expected the receiver to hold a valid capability: %v", err)
	}
}

func TestCapabilityTransferRollsBackOnTableFull(t *testing.T) {
	ep := NewEndpoint(false)
	senderCaps := capability.New()
	receiverCaps := capability.New()

	filler := &testObj{hdr: obj.Header{Type: obj.TypeIrq}}
	for i := 0; i < capability.Capacity-1; i++ {
		receiverCaps.Insert(filler, capability.Read)
	}

	o1 := &testObj{hdr: obj.Header{Type: obj.TypeChannel}}
	o2 := &testObj{hdr: obj.Header{Type: obj.TypeChannel}}
	slot1, _ := senderCaps.Insert(o1, capability.Grant)
	slot2, _ := senderCaps.Insert(o2, capability.Grant)

	receiver := &testThread{name: "R"}
	var buf Message
	ep.Recv(receiver, receiverCaps, &buf)

	// The receiver's table has exactly one free slot: the first cap slot
	// fills it, the second finds the table full and the whole transfer aborts.
	if _, _, err := ep.Send(&testThread{}, senderCaps, Message{CapSlots: []int{slot1, slot2}}); err != ErrCapTransferDenied {
		t.Fatalf("expected transfer failure against a full receiver table, got %v", err)
	}

	other := &testObj{hdr: obj.Header{Type: obj.TypeChannel}}
	if _, err := receiverCaps.Insert(other, capability.Read); err != nil {
		t.Fatalf("expected the rolled-back slot to be free again, got %v", err)
	}
}

func TestChannelPartnersAreMutual(t *testing.T) {
	ch := NewChannel(false)
	if ch.A.Partner() != ch.B || ch.B.Partner() != ch.A {
		t.Fatal("expected the channel's endpoints to be mutual partners")
	}
}

func TestRemoveSenderCancelsWait(t *testing.T) {
	ep := NewEndpoint(false)
	a := &testThread{name: "A"}
	ep.Send(a, capability.New(), Message{})

	if !ep.RemoveSender(a) {
		t.Fatal("expected RemoveSender to find the parked thread")
	}
	if ep.SenderQueueLen() != 0 {
		t.Fatal("expected the sender queue to be empty after removal")
	}
	if ep.RemoveSender(a) {
		t.Fatal("expected a second removal to report not-found")
	}
}
