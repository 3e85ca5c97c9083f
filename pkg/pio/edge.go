package pio

// EdgeDetector decides when a WAIT GPIO/PIN instruction retires.
//
// WAIT has no timeout: if the observed pin never satisfies the detector, the
// state machine stalls forever. Cancellation is not supported.
type EdgeDetector interface {
	// Observe is fed every level change of every GPIO.
	Observe(gpio uint8, level bool)
	// Ready reports whether a WAIT for polarity on gpio retires now, given the
	// current pad level. A true result consumes whatever made it ready.
	Ready(gpio uint8, polarity bool, level bool) bool
	// Reset forgets everything observed so far.
	Reset()
}

// EdgeLatch retires one WAIT per transition into the awaited polarity:
// WAIT 0 waits for a falling edge, WAIT 1 for a rising edge. Transitions are
// latched so a short pulse between two instruction fetches is not missed.
type EdgeLatch struct {
	rising  uint32
	falling uint32
}

// Observe implements EdgeDetector.
func (l *EdgeLatch) Observe(gpio uint8, level bool) {
	bit := uint32(1) << (gpio & 31)
	if level {
		l.rising |= bit
	} else {
		l.falling |= bit
	}
}

// Ready implements EdgeDetector.
func (l *EdgeLatch) Ready(gpio uint8, polarity bool, level bool) bool {
	bit := uint32(1) << (gpio & 31)
	latch := &l.falling
	if polarity {
		latch = &l.rising
	}
	if *latch&bit == 0 {
		return false
	}
	*latch &^= bit
	return true
}

// Reset implements EdgeDetector.
func (l *EdgeLatch) Reset() {
	l.rising, l.falling = 0, 0
}

// LevelSense retires WAIT whenever the pad is at the awaited level, which is
// how the silicon behaves.
type LevelSense struct{}

// Observe implements EdgeDetector.
func (LevelSense) Observe(uint8, bool) {}

// Ready implements EdgeDetector.
func (LevelSense) Ready(_ uint8, polarity bool, level bool) bool {
	return level == polarity
}

// Reset implements EdgeDetector.
func (LevelSense) Reset() {}
