// Package tracer implements the fiber VM's observer contract (spec §4.8:
// "a tracer sink is notified on every trace instruction and on fiber
// lifecycle events... the sink is called with temporary borrows of the
// heap; no references outlive the call").
//
// Grounded on the teacher's DebugHook interface (internal/vm/vm.go) for the
// shape of a capability the VM calls synchronously without owning; Candy's
// Sink enumerates a closed event set instead of the teacher's open-ended
// debug-line hook, matching spec §4.6's four trace opcodes plus §4.8's six
// lifecycle events.
package tracer

import "github.com/candy-lang/candy-sub004/internal/heap"

// Sink receives every trace event the VM produces. Implementations must not
// retain any heap.Value passed to them beyond the call — the VM may Drop or
// mutate the underlying heap immediately afterward.
type Sink interface {
	FiberCreated(fiberID int, parent int, hasParent bool)
	FiberExecutionStarted(fiberID int)
	FiberExecutionEnded(fiberID int)
	FiberDone(fiberID int, result heap.Value)
	FiberPanicked(fiberID int, reason, responsible heap.Value)
	FiberCanceled(fiberID int)

	CallStarts(fiberID int, callee heap.Value, arguments []heap.Value, responsible heap.Value)
	CallEnds(fiberID int, returned heap.Value)
	ExpressionEvaluated(fiberID int, hir heap.Value, value heap.Value)
	FoundFuzzableFunction(fiberID int, hir heap.Value, function heap.Value)
}

// NoopSink discards every event; the VM's default when no embedder attaches
// a sink, keeping tracing off the hot path entirely (spec §9: tracing is
// sink-driven, never a hard-coded VM feature).
type NoopSink struct{}

func (NoopSink) FiberCreated(int, int, bool)                                    {}
func (NoopSink) FiberExecutionStarted(int)                                      {}
func (NoopSink) FiberExecutionEnded(int)                                        {}
func (NoopSink) FiberDone(int, heap.Value)                                      {}
func (NoopSink) FiberPanicked(int, heap.Value, heap.Value)                      {}
func (NoopSink) FiberCanceled(int)                                              {}
func (NoopSink) CallStarts(int, heap.Value, []heap.Value, heap.Value)           {}
func (NoopSink) CallEnds(int, heap.Value)                                       {}
func (NoopSink) ExpressionEvaluated(int, heap.Value, heap.Value)                {}
func (NoopSink) FoundFuzzableFunction(int, heap.Value, heap.Value)              {}

// Event is CollectingSink's uniform record of whichever call it received,
// letting tests assert on event order without one assertion helper per
// method.
type Event struct {
	Kind        string
	FiberID     int
	Parent      int
	HasParent   bool
	Result      heap.Value
	Reason      heap.Value
	Responsible heap.Value
	Callee      heap.Value
	Arguments   []heap.Value
	Returned    heap.Value
	Hir         heap.Value
	Value       heap.Value
	Function    heap.Value
}

// CollectingSink records every event in order, for tests that assert on VM
// lifecycle/trace behavior without standing up a real websocket client.
type CollectingSink struct {
	Events []Event
}

func (s *CollectingSink) FiberCreated(fiberID, parent int, hasParent bool) {
	s.Events = append(s.Events, Event{Kind: "created", FiberID: fiberID, Parent: parent, HasParent: hasParent})
}

func (s *CollectingSink) FiberExecutionStarted(fiberID int) {
	s.Events = append(s.Events, Event{Kind: "execution_started", FiberID: fiberID})
}

func (s *CollectingSink) FiberExecutionEnded(fiberID int) {
	s.Events = append(s.Events, Event{Kind: "execution_ended", FiberID: fiberID})
}

func (s *CollectingSink) FiberDone(fiberID int, result heap.Value) {
	s.Events = append(s.Events, Event{Kind: "done", FiberID: fiberID, Result: result})
}

func (s *CollectingSink) FiberPanicked(fiberID int, reason, responsible heap.Value) {
	s.Events = append(s.Events, Event{Kind: "panicked", FiberID: fiberID, Reason: reason, Responsible: responsible})
}

func (s *CollectingSink) FiberCanceled(fiberID int) {
	s.Events = append(s.Events, Event{Kind: "canceled", FiberID: fiberID})
}

func (s *CollectingSink) CallStarts(fiberID int, callee heap.Value, arguments []heap.Value, responsible heap.Value) {
	s.Events = append(s.Events, Event{Kind: "call_starts", FiberID: fiberID, Callee: callee, Arguments: arguments, Responsible: responsible})
}

func (s *CollectingSink) CallEnds(fiberID int, returned heap.Value) {
	s.Events = append(s.Events, Event{Kind: "call_ends", FiberID: fiberID, Returned: returned})
}

func (s *CollectingSink) ExpressionEvaluated(fiberID int, hir heap.Value, value heap.Value) {
	s.Events = append(s.Events, Event{Kind: "expression_evaluated", FiberID: fiberID, Hir: hir, Value: value})
}

func (s *CollectingSink) FoundFuzzableFunction(fiberID int, hir heap.Value, function heap.Value) {
	s.Events = append(s.Events, Event{Kind: "found_fuzzable_function", FiberID: fiberID, Hir: hir, Function: function})
}
