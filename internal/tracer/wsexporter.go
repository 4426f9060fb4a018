package tracer

import (
	"encoding/json"
	"sync"

	"github.com/candy-lang/candy-sub004/internal/heap"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// WSExporter frames each trace/lifecycle event as JSON and writes it to a
// websocket connection for an external devtools client, grounded on the
// teacher's internal/network websocket helpers. Each frame is written
// synchronously inside the call, so a slow client delays the VM; after the
// first write error the exporter marks itself dead and every later call is
// a no-op.
//
// WSExporter holds no heap.Value beyond the call: each value is flattened
// to its heap Kind name only (no payload), since a websocket frame can't
// carry a live pointer into a heap that may be mutated or dropped the
// instant the call returns.
type WSExporter struct {
	// Session tags every frame of one VM run so a devtools client
	// multiplexing several runs over one socket can tell them apart.
	Session string

	mu   sync.Mutex
	conn *websocket.Conn
	dead bool
}

func NewWSExporter(conn *websocket.Conn) *WSExporter {
	return &WSExporter{Session: uuid.NewString(), conn: conn}
}

type wsFrame struct {
	Session     string `json:"session"`
	Kind        string `json:"kind"`
	FiberID     int    `json:"fiberId"`
	Parent      int    `json:"parent,omitempty"`
	HasParent   bool   `json:"hasParent,omitempty"`
	Description string `json:"description,omitempty"`
}

func (e *WSExporter) send(frame wsFrame) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dead {
		return
	}
	frame.Session = e.Session
	if err := e.conn.WriteJSON(frame); err != nil {
		e.dead = true
	}
}

func describe(v heap.Value) string {
	data, err := json.Marshal(v.Kind().String())
	if err != nil {
		return v.Kind().String()
	}
	return string(data)
}

func (e *WSExporter) FiberCreated(fiberID, parent int, hasParent bool) {
	e.send(wsFrame{Kind: "created", FiberID: fiberID, Parent: parent, HasParent: hasParent})
}

func (e *WSExporter) FiberExecutionStarted(fiberID int) {
	e.send(wsFrame{Kind: "execution_started", FiberID: fiberID})
}

func (e *WSExporter) FiberExecutionEnded(fiberID int) {
	e.send(wsFrame{Kind: "execution_ended", FiberID: fiberID})
}

func (e *WSExporter) FiberDone(fiberID int, result heap.Value) {
	e.send(wsFrame{Kind: "done", FiberID: fiberID, Description: describe(result)})
}

func (e *WSExporter) FiberPanicked(fiberID int, reason, responsible heap.Value) {
	e.send(wsFrame{Kind: "panicked", FiberID: fiberID, Description: describe(reason)})
}

func (e *WSExporter) FiberCanceled(fiberID int) {
	e.send(wsFrame{Kind: "canceled", FiberID: fiberID})
}

func (e *WSExporter) CallStarts(fiberID int, callee heap.Value, arguments []heap.Value, responsible heap.Value) {
	e.send(wsFrame{Kind: "call_starts", FiberID: fiberID, Description: describe(callee)})
}

func (e *WSExporter) CallEnds(fiberID int, returned heap.Value) {
	e.send(wsFrame{Kind: "call_ends", FiberID: fiberID, Description: describe(returned)})
}

func (e *WSExporter) ExpressionEvaluated(fiberID int, hir heap.Value, value heap.Value) {
	e.send(wsFrame{Kind: "expression_evaluated", FiberID: fiberID, Description: describe(value)})
}

func (e *WSExporter) FoundFuzzableFunction(fiberID int, hir heap.Value, function heap.Value) {
	e.send(wsFrame{Kind: "found_fuzzable_function", FiberID: fiberID, Description: describe(function)})
}
