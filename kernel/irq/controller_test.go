package irq

// fakeController is a minimal arch.InterruptController test double: it
// records mask/EOI calls instead of driving real 8259/APIC registers,
// which spec §1 places out of scope for this core.
type fakeController struct {
	masked map[uint8]bool
	eoiLog []uint8
}

func newFakeController() *fakeController {
	return &fakeController{masked: make(map[uint8]bool)}
}

func (c *fakeController) Mask(irqNum uint8)   { c.masked[irqNum] = true }
func (c *fakeController) Unmask(irqNum uint8) { c.masked[irqNum] = false }
func (c *fakeController) EOI(irqNum uint8)    { c.eoiLog = append(c.eoiLog, irqNum) }
