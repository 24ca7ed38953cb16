package syscall

import (
	"encoding/binary"

	"github.com/HTRMC/Graphene-Kernel/kernel"
	"github.com/HTRMC/Graphene-Kernel/kernel/arch"
	"github.com/HTRMC/Graphene-Kernel/kernel/boot"
	"github.com/HTRMC/Graphene-Kernel/kernel/capability"
	"github.com/HTRMC/Graphene-Kernel/kernel/console"
	"github.com/HTRMC/Graphene-Kernel/kernel/elf"
	"github.com/HTRMC/Graphene-Kernel/kernel/ipc"
	"github.com/HTRMC/Graphene-Kernel/kernel/irq"
	"github.com/HTRMC/Graphene-Kernel/kernel/mem"
	"github.com/HTRMC/Graphene-Kernel/kernel/mem/heap"
	"github.com/HTRMC/Graphene-Kernel/kernel/mem/vmm"
	"github.com/HTRMC/Graphene-Kernel/kernel/obj"
	"github.com/HTRMC/Graphene-Kernel/kernel/proc"
)

// callQuantum is the scheduler quantum assigned to threads created by
// thread_create. The closed request set (spec §6) gives thread_create only
// {entry, stack_cap, arg}, so nice and quantum are fixed defaults rather
// than caller-tunable.
const (
	callQuantum uint64 = 10
	defaultNice int8   = 0
)

// maxDebugPrint bounds a single debug_print call, so a hostile length
// argument can't force an unbounded host-side allocation before
// CopyFromUser even gets to validate the range.
const maxDebugPrint = 4096

// maxGrants bounds process_create's grants[] array for the same reason.
const maxGrants = 64

// Dispatcher holds every subsystem a syscall handler may need to reach
// (spec §2 data flow: "syscall/scheduler init" wires the dispatcher against
// the already-constructed process, IPC, IRQ and VMM state).
type Dispatcher struct {
	Manager    *proc.Manager
	IRQTable   *irq.Table
	Controller arch.InterruptController
	Arch       arch.Arch
	Console    *console.Console
	Heap       *heap.Heap
}

// Outcome reports what a Dispatch or Resume call did, so the scheduler loop
// (kernel/kmain) knows whether to keep the calling thread blocked, put it
// back on the run queue, force an immediate reschedule, or additionally
// wake other threads whose wait a delivery just satisfied.
type Outcome struct {
	// Blocked is true if the calling thread must not be scheduled again
	// until some other event completes it (a future Resume call).
	Blocked bool
	// Yield requests an immediate reschedule even though the calling
	// thread remains runnable (thread_yield).
	Yield bool
	// Exited is true if the calling thread became a zombie as part of
	// this call (thread_exit, process_exit).
	Exited bool
	// Woken lists other threads a delivery unblocked (e.g. the receiver a
	// cap_send just handed a message to). The scheduler must, for each,
	// call Resume and then enqueue it unless Resume reports it re-blocked.
	Woken []*proc.Thread
}

type pendingKind uint8

const (
	pendingRecv pendingKind = iota
	pendingSend
	pendingCallSendPhase
	pendingCallReplyPhase
	pendingIRQ
)

// pendingOp is the continuation state a blocked syscall stashes on
// proc.Thread.Pending. msg is the destination Message a parked cap_recv (or
// a cap_call's reply wait) hands to ipc.Endpoint.Recv as its out pointer,
// so a later Send's delivery lands directly here without a further round
// trip once the thread is resumed.
type pendingOp struct {
	kind     pendingKind
	frame    *arch.TrapFrame
	endpoint *ipc.Endpoint
	msg      ipc.Message
	userBuf  uintptr
	userLen  uintptr
	replyBuf uintptr
	replyLen uintptr
}

func setReturn(frame *arch.TrapFrame, v int64) {
	frame.GPRs[arch.RegReturn] = uint64(v)
}

func fail(frame *arch.TrapFrame, e Errno) Outcome {
	setReturn(frame, int64(e))
	return Outcome{}
}

func failErr(frame *arch.TrapFrame, err *kernel.Error) Outcome {
	return fail(frame, translate(err))
}

// asThread narrows an ipc/irq Schedulable return value down to *proc.Thread,
// the only concrete Schedulable the dispatcher ever deals with.
func asThread(s interface{}) (*proc.Thread, bool) {
	if s == nil {
		return nil, false
	}
	t, ok := s.(*proc.Thread)
	return t, ok && t != nil
}

// Dispatch implements spec §4.11: resolve the calling thread's process and
// capability table, decode the request number and six arguments from
// frame's ABI-standard register positions, run the matching handler, and
// write the result back into frame's return-value register (unless the
// handler blocks the thread, in which case the register is written later
// by Resume).
func (d *Dispatcher) Dispatch(t *proc.Thread, frame *arch.TrapFrame) Outcome {
	n := Number(frame.GPRs[arch.RegReturn])
	if !n.Valid() {
		return fail(frame, ErrInvalidSyscall)
	}

	p := t.Process
	caps := p.Capabilities
	as := p.AddressSpace

	a0 := frame.GPRs[arch.RegArg0]
	a1 := frame.GPRs[arch.RegArg1]
	a2 := frame.GPRs[arch.RegArg2]
	a3 := frame.GPRs[arch.RegArg3]
	a4 := frame.GPRs[arch.RegArg4]

	switch n {
	case CapSend:
		return d.capSend(t, caps, as, frame, int(a0), uintptr(a1), uintptr(a2))
	case CapRecv:
		return d.capRecv(t, caps, frame, int(a0), uintptr(a1), uintptr(a2))
	case CapCall:
		return d.capCall(t, caps, as, frame, int(a0), uintptr(a1), uintptr(a2), uintptr(a3), uintptr(a4))
	case CapCopy:
		return d.capCopy(caps, frame, int(a0), capability.Rights(a2))
	case CapDelete:
		return failErr(frame, caps.Delete(int(a0)))
	case CapRevoke:
		return failErr(frame, caps.Revoke(int(a0)))
	case MemMap:
		return d.memMap(caps, as, frame, int(a0), uintptr(a1), uintptr(a2), vmm.RegionFlag(a3))
	case MemUnmap:
		return failErr(frame, as.UnmapRegion(uintptr(a0)))
	case ThreadCreate:
		return d.threadCreate(p, frame, uintptr(a0), uintptr(a1), a2)
	case ThreadExit:
		d.Manager.ExitThread(t)
		setReturn(frame, int64(Success))
		return Outcome{Exited: true}
	case ThreadYield:
		setReturn(frame, int64(Success))
		return Outcome{Yield: true}
	case ProcessCreate:
		return d.processCreate(p, as, caps, frame, int(a0), uintptr(a1), uintptr(a2))
	case ProcessExit:
		d.Manager.DestroyProcess(p, int(int64(a0)))
		setReturn(frame, int64(Success))
		return Outcome{Exited: true}
	case IRQWait:
		return d.irqWait(t, caps, frame, int(a0))
	case IRQAck:
		return d.irqAck(caps, frame, int(a0))
	case DebugPrint:
		return d.debugPrint(as, frame, uintptr(a0), uintptr(a1))
	case CapInfo:
		return d.capInfo(caps, frame, int(a0))
	case ProcessInfo:
		return d.processInfo(t, frame, int(a0))
	case IOPortRead:
		return d.ioPortRead(caps, frame, int(a0), uint16(a1), int(a2))
	case IOPortWrite:
		return d.ioPortWrite(caps, frame, int(a0), uint16(a1), uint32(a2), int(a3))
	}
	return fail(frame, ErrInvalidSyscall)
}

// Resume completes a syscall that previously blocked t, once some other
// operation has satisfied whatever it was waiting on. It is a no-op if t
// has no pending continuation (e.g. it was woken for an unrelated reason).
func (d *Dispatcher) Resume(t *proc.Thread) Outcome {
	po, ok := t.Pending.(*pendingOp)
	if !ok || po == nil {
		return Outcome{}
	}
	t.Pending = nil
	t.Cancel = nil
	as := t.Process.AddressSpace

	switch po.kind {
	case pendingRecv:
		if err := d.completeRecv(as, po); err != nil {
			return failErr(po.frame, err)
		}
		return Outcome{}
	case pendingSend:
		setReturn(po.frame, int64(po.userLen))
		return Outcome{}
	case pendingCallSendPhase:
		return d.beginReplyWait(t, po)
	case pendingCallReplyPhase:
		if err := d.completeReply(as, po); err != nil {
			return failErr(po.frame, err)
		}
		return Outcome{}
	case pendingIRQ:
		setReturn(po.frame, int64(Success))
		return Outcome{}
	}
	return Outcome{}
}

// lookupEndpoint validates that slot names a live capability of the
// required rights referencing an *ipc.Endpoint.
func lookupEndpoint(caps *capability.Table, slot int, rights capability.Rights) (*ipc.Endpoint, *kernel.Error) {
	o, err := caps.Lookup(slot, obj.TypeEndpoint, rights)
	if err != nil {
		return nil, err
	}
	return o.(*ipc.Endpoint), nil
}

// completeRecv delivers a filled pendingOp.msg into the user buffer a
// cap_recv (or the reply half of cap_call) named, and writes the copied
// length as the syscall's return value.
func (d *Dispatcher) completeRecv(as *vmm.AddressSpace, po *pendingOp) *kernel.Error {
	n := uintptr(len(po.msg.Payload))
	if n > po.userLen {
		n = po.userLen
	}
	if n > 0 {
		if err := as.CopyToUser(po.userBuf, po.msg.Payload[:n]); err != nil {
			return err
		}
	}
	setReturn(po.frame, int64(n))
	return nil
}

func (d *Dispatcher) completeReply(as *vmm.AddressSpace, po *pendingOp) *kernel.Error {
	n := uintptr(len(po.msg.Payload))
	if n > po.replyLen {
		n = po.replyLen
	}
	if n > 0 {
		if err := as.CopyToUser(po.replyBuf, po.msg.Payload[:n]); err != nil {
			return err
		}
	}
	setReturn(po.frame, int64(n))
	return nil
}

func (d *Dispatcher) capSend(t *proc.Thread, caps *capability.Table, as *vmm.AddressSpace, frame *arch.TrapFrame, slot int, buf, length uintptr) Outcome {
	ep, err := lookupEndpoint(caps, slot, capability.Send)
	if err != nil {
		return failErr(frame, err)
	}
	if length > ipc.MaxPayload {
		return fail(frame, ErrInvalidArgument)
	}
	payload := make([]byte, length)
	if err := as.CopyFromUser(payload, buf); err != nil {
		return failErr(frame, err)
	}

	res, woken, sendErr := ep.Send(t, caps, ipc.Message{Payload: payload})
	out := Outcome{}
	if wt, ok := asThread(woken); ok {
		out.Woken = append(out.Woken, wt)
	}
	if sendErr != nil {
		return failErr(frame, sendErr)
	}
	if res == ipc.SendBlocked {
		t.Pending = &pendingOp{kind: pendingSend, frame: frame, endpoint: ep, userLen: length}
		t.Cancel = func() { ep.RemoveSender(t) }
		out.Blocked = true
		return out
	}
	setReturn(frame, int64(length))
	return out
}

// capRecv implements the non-call receive path (spec §4.9). as is fetched
// fresh from t.Process rather than taken as a parameter because Resume
// re-enters the same completion path with a different thread's address
// space.
func (d *Dispatcher) capRecv(t *proc.Thread, caps *capability.Table, frame *arch.TrapFrame, slot int, buf, length uintptr) Outcome {
	ep, err := lookupEndpoint(caps, slot, capability.Handle)
	if err != nil {
		return failErr(frame, err)
	}
	po := &pendingOp{kind: pendingRecv, frame: frame, endpoint: ep, userBuf: buf, userLen: length}
	res, woken, recvErr := ep.Recv(t, caps, &po.msg)
	out := Outcome{}
	if wt, ok := asThread(woken); ok {
		out.Woken = append(out.Woken, wt)
	}
	if recvErr != nil {
		return failErr(frame, recvErr)
	}
	if res == ipc.RecvBlocked {
		t.Pending = po
		t.Cancel = func() { ep.RemoveReceiver(t) }
		out.Blocked = true
		return out
	}
	if err := d.completeRecv(t.Process.AddressSpace, po); err != nil {
		return failErr(frame, err)
	}
	return out
}

// ensureReplyCapability lazily creates t's implicit reply endpoint and
// installs a capability for it in t's own process table, caching the slot
// on the thread so repeated cap_call syscalls reuse it (design decision:
// per-thread reply endpoint identity). Grant is required alongside Send
// since the endpoint travels to the callee through the message's own
// CapSlots transfer, which enforces the Grant right on the source slot.
func (d *Dispatcher) ensureReplyCapability(t *proc.Thread) (int, *kernel.Error) {
	if t.ReplyEndpoint == nil {
		t.ReplyEndpoint = ipc.NewEndpoint(false)
	}
	if t.ReplySlot >= 0 {
		return t.ReplySlot, nil
	}
	slot, err := t.Process.Capabilities.Insert(t.ReplyEndpoint, capability.Send|capability.Grant)
	if err != nil {
		return -1, err
	}
	t.ReplySlot = slot
	return slot, nil
}

// capCall implements cap_call's send half (spec §6 "cap_call | slot, msg,
// len, reply, rlen"): send the message with the caller's reply capability
// attached, then, once it is actually delivered, block for the reply on
// that same endpoint. No dedicated cap_reply syscall exists in the closed
// request set; the callee replies with an ordinary cap_send against the
// capability it received. That reply message carries no flags: nothing on
// this path sets ipc.FlagIsReply, and the caller gets only the payload.
func (d *Dispatcher) capCall(t *proc.Thread, caps *capability.Table, as *vmm.AddressSpace, frame *arch.TrapFrame, slot int, msgPtr, msgLen, replyPtr, replyLen uintptr) Outcome {
	ep, err := lookupEndpoint(caps, slot, capability.Send)
	if err != nil {
		return failErr(frame, err)
	}
	if msgLen > ipc.MaxPayload {
		return fail(frame, ErrInvalidArgument)
	}
	payload := make([]byte, msgLen)
	if err := as.CopyFromUser(payload, msgPtr); err != nil {
		return failErr(frame, err)
	}
	replySlot, err := d.ensureReplyCapability(t)
	if err != nil {
		return failErr(frame, err)
	}

	po := &pendingOp{kind: pendingCallSendPhase, frame: frame, endpoint: ep, replyBuf: replyPtr, replyLen: replyLen}
	msg := ipc.Message{Payload: payload, Flags: ipc.FlagWantsReply, CapSlots: []int{replySlot}}
	res, woken, sendErr := ep.Send(t, caps, msg)
	out := Outcome{}
	if wt, ok := asThread(woken); ok {
		out.Woken = append(out.Woken, wt)
	}
	if sendErr != nil {
		return failErr(frame, sendErr)
	}
	if res == ipc.SendBlocked {
		t.Pending = po
		t.Cancel = func() { ep.RemoveSender(t) }
		out.Blocked = true
		return out
	}

	inner := d.beginReplyWait(t, po)
	out.Blocked = inner.Blocked
	out.Woken = append(out.Woken, inner.Woken...)
	return out
}

// beginReplyWait starts (or, called from Resume, continues) cap_call's
// second phase: waiting on the caller's own reply endpoint for the
// callee's answer.
func (d *Dispatcher) beginReplyWait(t *proc.Thread, po *pendingOp) Outcome {
	po.kind = pendingCallReplyPhase
	po.msg = ipc.Message{}
	res, woken, err := t.ReplyEndpoint.Recv(t, t.Process.Capabilities, &po.msg)
	out := Outcome{}
	if wt, ok := asThread(woken); ok {
		out.Woken = append(out.Woken, wt)
	}
	if err != nil {
		return failErr(po.frame, err)
	}
	if res == ipc.RecvBlocked {
		t.Pending = po
		t.Cancel = func() { t.ReplyEndpoint.RemoveReceiver(t) }
		out.Blocked = true
		return out
	}
	if err := d.completeReply(t.Process.AddressSpace, po); err != nil {
		return failErr(po.frame, err)
	}
	return out
}

// capCopy implements cap_copy as a same-table rights-reduced duplicate
// (spec §6 "cap_copy | src, dst, mask | — | duplicate with reduced
// rights"): capability.Table.Copy only supports inserting into a table at
// its own next free slot, so the syscall's numeric dst argument is
// reserved and unused, and the new slot index is returned instead.
func (d *Dispatcher) capCopy(caps *capability.Table, frame *arch.TrapFrame, src int, mask capability.Rights) Outcome {
	slot, err := caps.Copy(src, caps, mask)
	if err != nil {
		return failErr(frame, err)
	}
	setReturn(frame, int64(slot))
	return Outcome{}
}

func (d *Dispatcher) capInfo(caps *capability.Table, frame *arch.TrapFrame, slot int) Outcome {
	typ, rights, err := caps.Info(slot)
	if err != nil {
		return failErr(frame, err)
	}
	setReturn(frame, int64(uint64(typ)<<8|uint64(rights)))
	return Outcome{}
}

func (d *Dispatcher) processInfo(t *proc.Thread, frame *arch.TrapFrame, what int) Outcome {
	switch what {
	case 0:
		setReturn(frame, int64(t.Process.PID))
	case 1:
		if t.Process.Parent == nil {
			setReturn(frame, -1)
		} else {
			setReturn(frame, int64(t.Process.Parent.PID))
		}
	default:
		return fail(frame, ErrInvalidArgument)
	}
	return Outcome{}
}

// memMap implements mem_map (spec §6 "memory·{R,W,X as requested} |
// enforces W^X"): the requested region flags double as the rights required
// of the memory capability, since capability.Rights' R/W/X bits already
// line up with vmm.RegionFlag's.
func (d *Dispatcher) memMap(caps *capability.Table, as *vmm.AddressSpace, frame *arch.TrapFrame, slot int, vaddr, size uintptr, flags vmm.RegionFlag) Outcome {
	var rights capability.Rights
	if flags.Has(vmm.RegionRead) {
		rights |= capability.Read
	}
	if flags.Has(vmm.RegionWrite) {
		rights |= capability.Write
	}
	if flags.Has(vmm.RegionExecute) {
		rights |= capability.Execute
	}
	if _, err := caps.Lookup(slot, obj.TypeMemory, rights); err != nil {
		return failErr(frame, err)
	}
	if size == 0 || size%uintptr(mem.PageSize) != 0 {
		return fail(frame, ErrInvalidArgument)
	}
	pageCount := int(size / uintptr(mem.PageSize))
	return failErr(frame, as.MapRegionAlloc(vaddr, pageCount, flags|vmm.RegionUser))
}

// threadCreate implements thread_create (spec §6 "entry, stack_cap, arg").
// stack_cap's rights column is "—", so it is read as a raw user stack-top
// address rather than a capability slot.
func (d *Dispatcher) threadCreate(p *proc.Process, frame *arch.TrapFrame, entry, stackTop uintptr, arg uint64) Outcome {
	t, err := d.Manager.NewThread(p, entry, arg, defaultNice, callQuantum)
	if err != nil {
		return failErr(frame, err)
	}
	t.UserSP = stackTop
	setReturn(frame, int64(t.TID))
	return Outcome{}
}

// processCreate implements process_create (spec §6 "image_cap, grants[]"):
// image_cap names a MemoryObject capability holding the raw ELF image,
// grantsPtr/grantsCount (RegArg1/RegArg2) describe a user array of uint32
// slot indices in the caller's table to grant into the new process.
func (d *Dispatcher) processCreate(p *proc.Process, as *vmm.AddressSpace, caps *capability.Table, frame *arch.TrapFrame, imageSlot int, grantsPtr, grantsCount uintptr) Outcome {
	o, err := caps.Lookup(imageSlot, obj.TypeMemory, 0)
	if err != nil {
		return failErr(frame, err)
	}
	memObj := o.(*MemoryObject)

	if grantsCount > maxGrants {
		return fail(frame, ErrInvalidArgument)
	}
	raw := make([]byte, grantsCount*4)
	if grantsCount > 0 {
		if err := as.CopyFromUser(raw, grantsPtr); err != nil {
			return failErr(frame, err)
		}
	}

	child, err := elf.LoadModule(d.Manager, boot.Module{Name: p.Name + ".child", Data: memObj.Data})
	if err != nil {
		return failErr(frame, err)
	}

	for i := uintptr(0); i < grantsCount; i++ {
		srcSlot := int(binary.LittleEndian.Uint32(raw[i*4 : i*4+4]))
		if _, grantErr := caps.Grant(srcSlot, child.Capabilities); grantErr != nil {
			d.Manager.DestroyProcess(child, -1)
			return failErr(frame, grantErr)
		}
	}

	setReturn(frame, int64(child.PID))
	return Outcome{}
}

func (d *Dispatcher) irqWait(t *proc.Thread, caps *capability.Table, frame *arch.TrapFrame, slot int) Outcome {
	o, err := caps.Lookup(slot, obj.TypeIrq, capability.Handle)
	if err != nil {
		return failErr(frame, err)
	}
	line := o.(*irq.Line)
	if line.Wait(t) == irq.WaitBlocked {
		t.Pending = &pendingOp{kind: pendingIRQ, frame: frame}
		t.Cancel = func() { line.RemoveWaiter(t) }
		return Outcome{Blocked: true}
	}
	setReturn(frame, int64(Success))
	return Outcome{}
}

func (d *Dispatcher) irqAck(caps *capability.Table, frame *arch.TrapFrame, slot int) Outcome {
	o, err := caps.Lookup(slot, obj.TypeIrq, capability.Handle)
	if err != nil {
		return failErr(frame, err)
	}
	line := o.(*irq.Line)
	line.Ack(d.Controller)
	setReturn(frame, int64(Success))
	return Outcome{}
}

// debugPrint stages the copied user bytes in a kernel heap allocation rather
// than a bare make([]byte, ...) (spec §4.4/§2 "Heap init" precedes
// "Object pools init" in boot order): a call at or under 2048 bytes lands in
// a slab class, one above it in the large free list, exercising both of the
// heap's allocation paths from the one production caller that needs a
// transient kernel-side buffer.
func (d *Dispatcher) debugPrint(as *vmm.AddressSpace, frame *arch.TrapFrame, buf, length uintptr) Outcome {
	if length > maxDebugPrint {
		return fail(frame, ErrInvalidArgument)
	}
	alloc, err := d.Heap.Alloc(int(length))
	if err != nil {
		return failErr(frame, err)
	}
	defer d.Heap.Free(alloc)
	if err := as.CopyFromUser(alloc.Bytes, buf); err != nil {
		return failErr(frame, err)
	}
	d.Console.Write(alloc.Bytes)
	setReturn(frame, int64(length))
	return Outcome{}
}

func (d *Dispatcher) ioPortRead(caps *capability.Table, frame *arch.TrapFrame, slot int, port uint16, width int) Outcome {
	o, err := caps.Lookup(slot, obj.TypeIoPort, capability.Read)
	if err != nil {
		return failErr(frame, err)
	}
	ports := o.(*IOPortRange)
	if !ports.Contains(port) {
		return fail(frame, ErrPermissionDenied)
	}
	val, ioErr := d.Arch.InPort(port, width)
	if ioErr != nil {
		return fail(frame, ErrInvalidArgument)
	}
	setReturn(frame, int64(val))
	return Outcome{}
}

func (d *Dispatcher) ioPortWrite(caps *capability.Table, frame *arch.TrapFrame, slot int, port uint16, val uint32, width int) Outcome {
	o, err := caps.Lookup(slot, obj.TypeIoPort, capability.Write)
	if err != nil {
		return failErr(frame, err)
	}
	ports := o.(*IOPortRange)
	if !ports.Contains(port) {
		return fail(frame, ErrPermissionDenied)
	}
	if ioErr := d.Arch.OutPort(port, val, width); ioErr != nil {
		return fail(frame, ErrInvalidArgument)
	}
	setReturn(frame, int64(Success))
	return Outcome{}
}
