package vm

// Frame is a call's activation record on a fiber's call stack: the IP to
// resume at in the caller, and the absolute index (from the bottom of the
// fiber's value stack) where this call's own locals begin (spec §4.8:
// "pushes a frame recording the return IP and the caller's frame size").
// Candy keeps locals on the shared value stack rather than a separate
// register file (PushFromStack addresses them by top-relative offset), so
// StackBase is the frame-size bookkeeping spec describes, expressed as a
// base pointer instead of a raw count.
type Frame struct {
	ReturnIP  int
	StackBase int
}
