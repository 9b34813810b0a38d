// Package isolate ties one heap, one interpreter, one message loop,
// and one process-global port address together into the unit spec §5
// calls an isolate: an independently-GC'd, independently-scheduled
// actor that only ever talks to another isolate by sending it an
// immutable byte-array message through a port.
//
// Grounded on the teacher's runtime/chan.go: a port's pending receives
// are a wait queue exactly the way an unbuffered channel's recvq is,
// generalized from in-process value handoff between goroutines
// sharing one address space to serialized messages crossing isolate
// boundaries that never share heap pointers (spec §5's literal
// requirement that isolates share no mutable state). Unlike chan.go's
// hand-rolled sudog/waitq linked list (needed there because channels
// predate generics and must avoid allocating per send), this port
// reaches for Go's own channel as the wait queue: the structural idea
// is preserved, the hand-rolled queue is not, since Go already has the
// idiomatic primitive chan.go itself is implementing from scratch.
package isolate

import (
	"context"
	"math/rand"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"soupvm/internal/heap"
	"soupvm/internal/interp"
	"soupvm/internal/objects"
	"soupvm/internal/oop"
	"soupvm/internal/primitive"
)

// PortID addresses a message queue, unique process-wide (spec §5).
type PortID string

// Message is one isolate-to-isolate send: an immutable byte payload
// plus the sending port, so a reply can be addressed back.
type Message struct {
	From    PortID
	Payload []byte
}

// Port is one isolate's mailbox. Buffered so a send never blocks on
// the receiving isolate being mid-turn (spec §5: "sends are
// asynchronous, fire-and-forget from the sender's perspective").
type Port struct {
	ID PortID
	ch chan Message
}

const portBuffer = 256

func newPort(id PortID) *Port {
	return &Port{ID: id, ch: make(chan Message, portBuffer)}
}

// registry is the process-global port map every isolate's Send looks
// up its destination through, guarded by a single mutex (spec §5's
// literal requirement; chan.go's hchan.lock is the analogous
// per-channel guard, widened here to one map covering every isolate's
// port since ports, unlike channels, are addressed by name rather than
// held as a direct reference).
type registry struct {
	mu    sync.RWMutex
	ports map[PortID]*Port
}

var global = &registry{ports: make(map[PortID]*Port)}

func (r *registry) register(p *Port) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ports[p.ID] = p
}

func (r *registry) unregister(id PortID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.ports, id)
}

func (r *registry) lookup(id PortID) (*Port, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.ports[id]
	return p, ok
}

// Isolate is one heap + one interpreter + one message loop + one PRNG
// stream + one identity-hash salt (spec §5).
type Isolate struct {
	ID PortID

	Heap       *heap.Heap
	Store      *objects.ObjectStore
	Interp     *interp.Interp
	Primitives *primitive.Table

	rng  *rand.Rand
	port *Port
	log  *logrus.Entry
}

// New allocates a fresh isolate: a heap seeded with salt (spec §4.1's
// per-isolate identity-hash salt), an ObjectStore bound in from an
// already-deserialized snapshot, and an interpreter wired to a fresh
// primitive table.
func New(id PortID, h *heap.Heap, store *objects.ObjectStore, log *logrus.Entry) *Isolate {
	oop.AssertHostWordSize()

	iso := &Isolate{
		ID:         id,
		Heap:       h,
		Store:      store,
		rng:        rand.New(rand.NewSource(int64(deriveSeed(id)))),
		port:       newPort(id),
		log:        log,
		Primitives: primitive.New(),
	}
	iso.Interp = interp.New(h, store, log)
	iso.Interp.Primitives = iso.Primitives
	global.register(iso.port)
	return iso
}

func deriveSeed(id PortID) uint32 {
	var seed uint32
	for _, r := range id {
		seed = seed*31 + uint32(r)
	}
	return seed
}

// NewID mints a fresh, process-unique port id.
func NewID() PortID { return PortID(uuid.NewString()) }

// Close removes this isolate's port from the process-global registry;
// sends to it afterward silently fail to find a destination (mirroring
// a closed channel's send panic being deliberately avoided here, since
// a departed isolate is an ordinary, expected occurrence rather than a
// programming error).
func (iso *Isolate) Close() { global.unregister(iso.ID) }

// Send delivers payload to the isolate owning to, returning false if
// no such port is currently registered (spec §5: "a send to an unknown
// or departed port is a no-op the sender can detect, not a fault").
func (iso *Isolate) Send(to PortID, payload []byte) bool {
	p, ok := global.lookup(to)
	if !ok {
		return false
	}
	select {
	case p.ch <- Message{From: iso.ID, Payload: payload}:
		return true
	default:
		// Mailbox full: spec §5 treats this the same as "unknown port"
		// rather than blocking the sender indefinitely.
		return false
	}
}

// Receive blocks for the next message addressed to this isolate, or
// until ctx is done.
func (iso *Isolate) Receive(ctx context.Context) (Message, bool) {
	select {
	case m := <-iso.port.ch:
		return m, true
	case <-ctx.Done():
		return Message{}, false
	}
}

// InterruptAll requests every isolate in group stop at its next
// StackOverflow check (spec §6.4's `interrupt` subcommand), mirroring
// interpreter.cc's process-wide checked_stack_limit_ poke.
func InterruptAll(isolates []*Isolate) {
	for _, iso := range isolates {
		iso.Interp.RequestInterrupt()
	}
}

// Group runs a fixed set of isolates concurrently on a worker pool,
// one goroutine per isolate, propagating the first isolate's error (if
// any) and canceling the rest (errgroup.Group's standard
// fail-fast-cancel-siblings contract, the worker-pool counterpart to
// chan.go's single-hchan-per-channel model generalized to N
// concurrently scheduled isolates).
type Group struct {
	eg  *errgroup.Group
	ctx context.Context
}

func NewGroup(ctx context.Context) *Group {
	eg, gctx := errgroup.WithContext(ctx)
	return &Group{eg: eg, ctx: gctx}
}

// Spawn runs fn (typically iso.Interp.Run wrapped to turn its string
// reason into an error the caller cares about) on the pool.
func (g *Group) Spawn(fn func(ctx context.Context) error) {
	g.eg.Go(func() error { return fn(g.ctx) })
}

// Wait blocks until every spawned isolate has returned, reporting the
// first non-nil error.
func (g *Group) Wait() error { return g.eg.Wait() }
