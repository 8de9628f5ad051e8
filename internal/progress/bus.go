// Package progress fans progress snapshots out to subscribers.
package progress

import (
	"sync"

	"github.com/GoodPhotographer/goodphotographer/internal/model"
)

// Bus delivers the latest ProgressEvent to every subscriber. Each
// subscriber owns a single slot channel: a newer snapshot replaces one the
// subscriber has not read yet, so a slow reader never blocks a run.
// Snapshots are cumulative, dropping intermediate ones loses nothing.
type Bus struct {
	mx     sync.Mutex
	subs   map[int]chan model.ProgressEvent
	nextID int
	closed bool
}

func NewBus() *Bus {
	return &Bus{
		subs: make(map[int]chan model.ProgressEvent),
	}
}

// Subscribe returns a channel with the latest snapshot and a function
// to unsubscribe. The channel is closed by unsubscribe or Close.
func (b *Bus) Subscribe() (<-chan model.ProgressEvent, func()) {
	b.mx.Lock()
	defer b.mx.Unlock()

	ch := make(chan model.ProgressEvent, 1)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	return ch, func() {
		b.mx.Lock()
		defer b.mx.Unlock()
		if ch, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(ch)
		}
	}
}

// Publish never blocks.
func (b *Bus) Publish(ev model.ProgressEvent) {
	b.mx.Lock()
	defer b.mx.Unlock()

	for _, ch := range b.subs {
		// drop the unread snapshot, the new one supersedes it
		select {
		case <-ch:
		default:
		}
		ch <- ev.Clone()
	}
}

// Close closes all subscriber channels, later publishes are no-ops.
func (b *Bus) Close() {
	b.mx.Lock()
	defer b.mx.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
