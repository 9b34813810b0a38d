package isolate

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"soupvm/internal/heap"
	"soupvm/internal/objects"
	"soupvm/internal/oop"
)

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func newTestIsolate(t *testing.T) *Isolate {
	t.Helper()
	h, err := heap.New(heap.DefaultConfig(), 1, testLog())
	require.NoError(t, err)
	store := &objects.ObjectStore{ClassesByKind: make(map[oop.ClassID]oop.Oop)}
	iso := New(NewID(), h, store, testLog())
	t.Cleanup(iso.Close)
	return iso
}

func TestSendUnknownPortFails(t *testing.T) {
	iso := newTestIsolate(t)
	ok := iso.Send(PortID("does-not-exist"), []byte("hi"))
	require.False(t, ok)
}

func TestSendAndReceiveRoundTrips(t *testing.T) {
	a := newTestIsolate(t)
	b := newTestIsolate(t)

	ok := a.Send(b.ID, []byte("hello"))
	require.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, ok := b.Receive(ctx)
	require.True(t, ok)
	require.Equal(t, a.ID, msg.From)
	require.Equal(t, []byte("hello"), msg.Payload)
}

func TestReceiveTimesOutWithNoMessage(t *testing.T) {
	a := newTestIsolate(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, ok := a.Receive(ctx)
	require.False(t, ok)
}

func TestSendAfterCloseFails(t *testing.T) {
	a := newTestIsolate(t)
	b := newTestIsolate(t)

	b.Close()
	ok := a.Send(b.ID, []byte("x"))
	require.False(t, ok)
}

func TestSendToFullMailboxFails(t *testing.T) {
	a := newTestIsolate(t)
	b := newTestIsolate(t)

	for i := 0; i < portBuffer; i++ {
		require.True(t, a.Send(b.ID, []byte{byte(i)}))
	}
	require.False(t, a.Send(b.ID, []byte("one too many")))
}

func TestInterruptAllDoesNotPanic(t *testing.T) {
	a := newTestIsolate(t)
	b := newTestIsolate(t)
	require.NotPanics(t, func() { InterruptAll([]*Isolate{a, b}) })
}

func TestGroupRunsIsolatesConcurrently(t *testing.T) {
	a := newTestIsolate(t)
	b := newTestIsolate(t)

	g := NewGroup(context.Background())
	done := make(chan PortID, 2)
	g.Spawn(func(ctx context.Context) error {
		done <- a.ID
		return nil
	})
	g.Spawn(func(ctx context.Context) error {
		done <- b.ID
		return nil
	})
	require.NoError(t, g.Wait())
	close(done)

	seen := map[PortID]bool{}
	for id := range done {
		seen[id] = true
	}
	require.True(t, seen[a.ID])
	require.True(t, seen[b.ID])
}
