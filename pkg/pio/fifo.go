package pio

// FIFODepth is the depth of an unjoined FIFO.
const FIFODepth = 4

// fifo is a bounded word queue. A zero depth FIFO is disabled: every push
// fails and every pop finds it empty.
type fifo struct {
	ch chan uint32
}

func newFIFO(depth int) fifo {
	if depth == 0 {
		return fifo{}
	}
	return fifo{ch: make(chan uint32, depth)}
}

func (f *fifo) tryPush(w uint32) bool {
	if f.ch == nil {
		return false
	}
	select {
	case f.ch <- w:
		return true
	default:
		return false
	}
}

func (f *fifo) tryPop() (uint32, bool) {
	if f.ch == nil {
		return 0, false
	}
	select {
	case w := <-f.ch:
		return w, true
	default:
		return 0, false
	}
}

func (f *fifo) clear() {
	for {
		if _, ok := f.tryPop(); !ok {
			return
		}
	}
}

// TxFIFO carries words from the system to the state machine.
type TxFIFO struct{ fifo }

// RxFIFO carries words from the state machine to the system.
type RxFIFO struct{ fifo }

// Put writes a word from the system side; false when full or disabled.
func (f *TxFIFO) Put(w uint32) bool { return f.tryPush(w) }

// pull takes a word on the state machine side.
func (f *TxFIFO) pull() (uint32, bool) { return f.tryPop() }

// Get reads a word from the system side; false when empty or disabled.
func (f *RxFIFO) Get() (uint32, bool) { return f.tryPop() }

// push writes a word on the state machine side.
func (f *RxFIFO) push(w uint32) bool { return f.tryPush(w) }

// Len returns the number of queued words.
func (f *fifo) Len() int { return len(f.ch) }

// Cap returns the depth, 0 when disabled.
func (f *fifo) Cap() int { return cap(f.ch) }

// Empty reports whether no word is queued.
func (f *fifo) Empty() bool { return len(f.ch) == 0 }

// Full reports whether a push would fail.
func (f *fifo) Full() bool { return len(f.ch) == cap(f.ch) }

// Enabled reports whether the FIFO has any storage.
func (f *fifo) Enabled() bool { return f.ch != nil }

// fifoDepths returns the TX and RX depth for a join mode.
func fifoDepths(join FIFOJoin) (tx, rx int) {
	switch join {
	case FIFOJoinTX:
		return 2 * FIFODepth, 0
	case FIFOJoinRX:
		return 0, 2 * FIFODepth
	}
	return FIFODepth, FIFODepth
}
