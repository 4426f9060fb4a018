package vm

import "github.com/candy-lang/candy-sub004/internal/heap"

// pendingSend is a fiber parked waiting for buffer room or a rendezvous
// partner; packet already holds the cloned sub-heap (spec §5: "packets
// moving through channels transfer ownership of their embedded
// sub-heaps; no cross-heap aliasing" — the clone happens at Send time,
// before the fiber blocks, so the sender's own heap never needs revisiting
// once queued).
type pendingSend struct {
	fiberID int
	packet  heap.Packet
}

type pendingReceive struct {
	fiberID int
}

// Channel is a bounded FIFO of packets (spec §4.9). Capacity 0 makes it a
// rendezvous channel: a send only completes when a receive is already
// waiting, and vice versa.
type Channel struct {
	ID       int
	Capacity int

	buffer          []heap.Packet
	pendingSends    []pendingSend
	pendingReceives []pendingReceive
}

func newChannel(id, capacity int) *Channel {
	return &Channel{ID: id, Capacity: capacity}
}

// enqueueSend records fiberID's send attempt; the caller (VM) drains the
// channel afterward to see if it can complete immediately.
func (c *Channel) enqueueSend(fiberID int, packet heap.Packet) {
	c.pendingSends = append(c.pendingSends, pendingSend{fiberID: fiberID, packet: packet})
}

func (c *Channel) enqueueReceive(fiberID int) {
	c.pendingReceives = append(c.pendingReceives, pendingReceive{fiberID: fiberID})
}

// removePendingFiber drops any queued send/receive owned by fiberID (spec
// §4.9 Cancellation: "removes any pending operations it owned from channel
// queues").
func (c *Channel) removePendingFiber(fiberID int) {
	out := c.pendingSends[:0]
	for _, s := range c.pendingSends {
		if s.fiberID != fiberID {
			out = append(out, s)
		}
	}
	c.pendingSends = out

	outR := c.pendingReceives[:0]
	for _, r := range c.pendingReceives {
		if r.fiberID != fiberID {
			outR = append(outR, r)
		}
	}
	c.pendingReceives = outR
}

// completion describes one send/receive pair the drain step resolved, so
// the VM can wake both fibers with the right value and status.
type completion struct {
	senderFiberID   int
	hasSender       bool
	receiverFiberID int
	hasReceiver     bool
	packet          heap.Packet
}

// drain resolves as many pending operations as it can in a single pass —
// buffering sends into free capacity, satisfying receives from the buffer,
// and rendezvousing a waiting send directly with a waiting receive — and
// keeps looping until a pass makes no further progress (spec §4.9: "drains
// its pending queues until no more operations can make progress in a
// single step"). FIFO order is preserved on both queues throughout.
func (c *Channel) drain() []completion {
	var completions []completion
	for {
		progressed := false

		// A buffered packet is waiting and a receiver has arrived: FIFO
		// hand-off from the buffer first, since it represents sends that
		// already "completed" from the sender's point of view.
		if len(c.buffer) > 0 && len(c.pendingReceives) > 0 {
			packet := c.buffer[0]
			c.buffer = c.buffer[1:]
			recv := c.pendingReceives[0]
			c.pendingReceives = c.pendingReceives[1:]
			completions = append(completions, completion{receiverFiberID: recv.fiberID, hasReceiver: true, packet: packet})
			progressed = true
			continue
		}

		// Rendezvous: a send and a receive are both waiting and the buffer
		// is empty (the case above drains a non-empty buffer first), so the
		// packet passes straight from sender to receiver, whatever the
		// capacity.
		if len(c.pendingSends) > 0 && len(c.pendingReceives) > 0 {
			send := c.pendingSends[0]
			c.pendingSends = c.pendingSends[1:]
			recv := c.pendingReceives[0]
			c.pendingReceives = c.pendingReceives[1:]
			completions = append(completions, completion{
				senderFiberID: send.fiberID, hasSender: true,
				receiverFiberID: recv.fiberID, hasReceiver: true,
				packet: send.packet,
			})
			progressed = true
			continue
		}

		// A pending send can move into free buffer capacity.
		if len(c.pendingSends) > 0 && len(c.buffer) < c.Capacity {
			send := c.pendingSends[0]
			c.pendingSends = c.pendingSends[1:]
			c.buffer = append(c.buffer, send.packet)
			completions = append(completions, completion{senderFiberID: send.fiberID, hasSender: true})
			progressed = true
			continue
		}

		if !progressed {
			return completions
		}
	}
}
