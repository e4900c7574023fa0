// Copyright 2024 The Roof Controller Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package roof

import (
	"sync"
	"time"
)

// StatusChanged is published exactly once per observable transition, in
// commit order (spec.md §5). A subscriber whose buffer is full loses its
// oldest unread event (see broadcaster.publish).
type StatusChanged struct {
	Status         Status
	LastStopReason StopReason
	Timestamp      time.Time
}

// broadcaster is a bounded multi-producer broadcast of StatusChanged
// notifications. Subscribers hold weak observational references only: a
// slow or absent reader drops notifications rather than blocking the
// state machine, per spec.md §9's replacement for "event subscription with
// arbitrary handlers".
type broadcaster struct {
	mu   sync.Mutex
	subs map[int]chan StatusChanged
	next int
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[int]chan StatusChanged)}
}

// subscribe returns a channel of future StatusChanged events and an
// unsubscribe function. The channel has a small buffer; if a subscriber
// falls behind, the oldest unread notification is dropped rather than the
// publisher blocking.
func (b *broadcaster) subscribe() (<-chan StatusChanged, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	ch := make(chan StatusChanged, 8)
	b.subs[id] = ch
	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
	}
}

func (b *broadcaster) publish(evt StatusChanged) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- evt:
		default:
			// Drop the oldest, then try once more so the newest state always
			// eventually gets through.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- evt:
			default:
			}
		}
	}
}
