// Package broker multiplexes the three demo roles — camera source,
// viewing sink and analysis worker — over a single relay channel. It
// enforces role exclusivity, relays messages along a fixed dispatch
// table and notifies counterpart roles of presence changes.
//
// The broker is transport-agnostic: connections appear as Peers, and
// the websocket plumbing lives with the HTTP handlers. All role-slot
// state is guarded by one mutex, so registrations, relays and
// disconnects are serialized across connections.
package broker

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
)

// ErrRoleTaken is returned by Register when a different live connection
// already holds the requested role. The incumbent is never evicted.
var ErrRoleTaken = errors.New("role already registered")

// Peer is one attached connection as the broker sees it. Send must not
// block the caller (enqueue and return); Close tears the transport down
// with the given close code. Both are best-effort: failures are the
// transport's problem, never the broker's.
type Peer interface {
	Send(msg Message) error
	Close(code int, reason string)
}

// connState is the registration state machine: a connection starts
// unregistered and transitions exactly once to registered(role). There
// is no transition back; a closed connection is simply detached.
type connState struct {
	registered bool
	role       Role
}

// Broker owns the role table. Construct with New, attach every new
// connection, feed it inbound messages and detach on close.
type Broker struct {
	mu    sync.Mutex
	slots map[Role]Peer
	conns map[Peer]*connState
}

// New creates a broker with all role slots empty.
func New() *Broker {
	return &Broker{
		slots: make(map[Role]Peer),
		conns: make(map[Peer]*connState),
	}
}

// Attach introduces a new, unregistered connection.
func (b *Broker) Attach(peer Peer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.conns[peer] = &connState{}
}

// Detach removes a connection. If it held a role the slot is cleared and
// every registered counterpart is told which role left.
func (b *Broker) Detach(peer Peer) {
	b.mu.Lock()
	defer b.mu.Unlock()

	state, ok := b.conns[peer]
	if !ok {
		return
	}
	delete(b.conns, peer)
	if !state.registered {
		return
	}
	if b.slots[state.role] == peer {
		delete(b.slots, state.role)
	}
	log.Printf("broker: %s disconnected", state.role)
	b.notifyCounterparts(state.role, Message{Type: TypePeerDisconnected, Role: state.role})
}

// HandleMessage processes one inbound frame from a connection. Malformed
// payloads get a protocol error reply and the connection stays open;
// unknown message types are logged and ignored.
func (b *Broker) HandleMessage(peer Peer, data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		b.sendError(peer, "malformed message")
		return
	}

	if msg.Type == TypeRegister {
		if err := b.Register(peer, msg.Role); err != nil && !errors.Is(err, ErrRoleTaken) {
			b.sendError(peer, err.Error())
		}
		return
	}
	b.relay(peer, msg)
}

// Register binds the connection to the role. On conflict the caller
// receives an error envelope and is closed with CloseRoleConflict; the
// incumbent keeps its slot.
func (b *Broker) Register(peer Peer, role Role) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	state, ok := b.conns[peer]
	if !ok {
		return fmt.Errorf("connection not attached")
	}
	if !role.Valid() {
		return fmt.Errorf("unknown role %q", role)
	}
	if state.registered {
		return fmt.Errorf("connection already registered as %s", state.role)
	}
	if incumbent, taken := b.slots[role]; taken && incumbent != peer {
		b.send(peer, Message{Type: TypeError, Message: fmt.Sprintf("role %s already registered", role)})
		peer.Close(CloseRoleConflict, "role conflict")
		return fmt.Errorf("%w: %s", ErrRoleTaken, role)
	}

	state.registered = true
	state.role = role
	b.slots[role] = peer
	log.Printf("broker: %s registered", role)

	b.send(peer, Message{Type: TypeRegistered, Role: role, Peers: b.peerFlags()})
	b.notifyCounterparts(role, Message{Type: TypePeerReady, Role: role})
	return nil
}

// relay forwards a message along the dispatch table. A missing recipient
// is a synchronous error only for capture-image; the handshake relays
// are best-effort and just logged.
func (b *Broker) relay(peer Peer, msg Message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	state, ok := b.conns[peer]
	if !ok || !state.registered {
		log.Printf("WARNING: broker: dropping %q from unregistered connection", msg.Type)
		return
	}

	target, ok := routes[route{state.role, msg.Type}]
	if !ok {
		log.Printf("WARNING: broker: ignoring unknown message %q from %s", msg.Type, state.role)
		return
	}

	recipient, present := b.slots[target]
	if !present {
		if msg.Type == TypeCaptureImage {
			// Capture delivery is operationally meaningful to the sink;
			// the handshake relays are not.
			b.send(peer, Message{Type: TypeError, Message: fmt.Sprintf("no %s connected", target)})
			return
		}
		log.Printf("broker: dropping %q from %s, no %s connected", msg.Type, state.role, target)
		return
	}
	b.send(recipient, msg)
}

// peerFlags snapshots which roles are present. Callers hold the mutex.
func (b *Broker) peerFlags() *PeerFlags {
	_, source := b.slots[RoleSource]
	_, sink := b.slots[RoleSink]
	_, worker := b.slots[RoleWorker]
	return &PeerFlags{Source: source, Sink: sink, Worker: worker}
}

// notifyCounterparts sends msg to every registered counterpart of role.
// Callers hold the mutex.
func (b *Broker) notifyCounterparts(role Role, msg Message) {
	for _, other := range counterparts[role] {
		if peer, ok := b.slots[other]; ok {
			b.send(peer, msg)
		}
	}
}

// send delivers best-effort: a failed transport write is logged and
// never propagates into the broker's control flow.
func (b *Broker) send(peer Peer, msg Message) {
	if err := peer.Send(msg); err != nil {
		log.Printf("WARNING: broker: send %q failed: %v", msg.Type, err)
	}
}

func (b *Broker) sendError(peer Peer, text string) {
	b.send(peer, Message{Type: TypeError, Message: text})
}
