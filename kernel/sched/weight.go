package sched

// baseWeight is W₀, the weight assigned to nice 0 (spec §4.6 "Ordering").
const baseWeight = 1024

// niceWeights is the classic 40-entry nice-to-weight table (nice -20..+19,
// ratio ≈1.25 per step, niceWeights[20] == baseWeight). Every scheduler that
// implements CFS-style weighted-fair vruntime ordering uses this exact
// table; it is the one spec §4.6 names directly.
var niceWeights = [40]uint32{
	88761, 71755, 56483, 46273, 36291,
	29154, 23254, 18705, 14949, 11916,
	9548, 7620, 6100, 4904, 3906,
	3121, 2501, 1991, 1586, 1277,
	1024, 820, 655, 526, 423,
	335, 272, 215, 172, 137,
	110, 87, 70, 56, 45,
	36, 29, 23, 18, 15,
}

// Weight returns w(nice), clamping nice into [-20, 19] first.
func Weight(nice int8) uint32 {
	if nice < -20 {
		nice = -20
	} else if nice > 19 {
		nice = 19
	}
	return niceWeights[int(nice)+20]
}
