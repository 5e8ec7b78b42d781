/*
Package relay fans collaboration frames out across server nodes.

Every node publishes the frames its local participants send. It also receives the frames
published by every other node and delivers them to its own participants of the same session.
A node never receives its own publications back.
*/
package relay

import (
	"context"
	"encoding/json"
	"sync"
)

// Envelope is one relayed frame.
type Envelope struct {
	// Origin is the node id of the publisher.
	Origin    string          `json:"origin"`
	SessionID string          `json:"sessionId"`
	Frame     json.RawMessage `json:"frame"`
}

// Handler consumes envelopes published by other nodes.
type Handler func(Envelope)

// Relay is the cross-node transport used by the hub.
type Relay interface {
	// NodeID identifies this node in published envelopes.
	NodeID() string

	// Publish sends a frame of sessionID to every other node.
	Publish(ctx context.Context, sessionID string, frame []byte) error

	// Subscribe starts delivering envelopes from other nodes to h until ctx is done.
	Subscribe(ctx context.Context, h Handler) error

	Close() error
}

// Bus is an in-process relay shared by several nodes. A Bus with a single node behaves as a
// plain single-node deployment.
type Bus struct {
	mu    sync.RWMutex
	nodes map[string][]Handler
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{nodes: make(map[string][]Handler)}
}

// NewLocal returns a relay for a single-node deployment.
func NewLocal(nodeID string) Relay {
	return NewBus().Node(nodeID)
}

// Node returns the relay endpoint of nodeID on the bus.
func (b *Bus) Node(nodeID string) Relay {
	return &busNode{bus: b, id: nodeID}
}

func (b *Bus) publish(env Envelope) {
	b.mu.RLock()
	var targets []Handler
	for id, handlers := range b.nodes {
		if id != env.Origin {
			targets = append(targets, handlers...)
		}
	}
	b.mu.RUnlock()

	for _, h := range targets {
		h(env)
	}
}

type busNode struct {
	bus *Bus
	id  string
}

func (n *busNode) NodeID() string { return n.id }

func (n *busNode) Publish(ctx context.Context, sessionID string, frame []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n.bus.publish(Envelope{Origin: n.id, SessionID: sessionID, Frame: append(json.RawMessage(nil), frame...)})
	return nil
}

func (n *busNode) Subscribe(ctx context.Context, h Handler) error {
	n.bus.mu.Lock()
	n.bus.nodes[n.id] = append(n.bus.nodes[n.id], h)
	n.bus.mu.Unlock()

	go func() {
		<-ctx.Done()
		n.bus.mu.Lock()
		delete(n.bus.nodes, n.id)
		n.bus.mu.Unlock()
	}()
	return nil
}

func (n *busNode) Close() error {
	n.bus.mu.Lock()
	delete(n.bus.nodes, n.id)
	n.bus.mu.Unlock()
	return nil
}
