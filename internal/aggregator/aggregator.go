// Package aggregator coalesces messages that arrive as part of the same
// media group into a single ordered batch, bridging the gap between a chat
// platform delivering grouped media as several independent messages and the
// ingestion pipeline's need to process a group as one unit.
//
// Bucket state lives only in memory and is owned exclusively by this
// package; no other component observes it directly.
package aggregator

import (
	"sort"
	"sync"
	"time"
)

// DefaultWindow is the coalescing window applied when a batch's first
// message arrives and no later arrival resets it.
const DefaultWindow = 10 * time.Second

// Message is one unit handed to the aggregator by the dispatcher.
type Message struct {
	GroupID   string
	Timestamp time.Time
	Payload   interface{}
}

// Batch is an ordered sequence of messages sharing a group id, or a
// singleton when GroupID is empty.
type Batch struct {
	GroupID  string
	Messages []Message
}

type bucket struct {
	mu        sync.Mutex
	startedAt time.Time
	messages  []Message
	done      bool
}

func (b *bucket) elapsed(now func() time.Time) time.Duration {
	return now().Sub(b.startedAt)
}

// Aggregator coalesces messages sharing a group id into batches across a
// fixed window, with a per-group-id guard so concurrent arrivals for
// distinct groups never block each other.
type Aggregator struct {
	window time.Duration
	now    func() time.Time

	topLevel sync.Mutex
	buckets  map[string]*bucket
}

// New builds an Aggregator with the given coalescing window. A window of 0
// uses DefaultWindow.
func New(window time.Duration) *Aggregator {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Aggregator{
		window:  window,
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
}

// Add ingests one message. A message with no group id is a singleton batch,
// returned and ready immediately. Otherwise it joins (or starts) the
// group's bucket, per these rules:
//
//  1. If an existing bucket for this group has already reached the window,
//     it is marked done and its accumulated items are returned as a ready
//     batch; the arriving message is NOT appended to it — it starts a fresh
//     bucket on this same call instead, so it is never silently dropped.
//  2. Otherwise the message is appended; if the bucket (now including this
//     message) has not yet reached the window, Add returns (Batch{}, false)
//     — pending.
func (a *Aggregator) Add(msg Message) (Batch, bool) {
	if msg.GroupID == "" {
		return Batch{GroupID: "", Messages: []Message{msg}}, true
	}

	b := a.bucketFor(msg.GroupID)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.done {
		// A prior flush (or expiry check below) already closed this bucket;
		// a late arrival with the same group id starts a fresh one.
		fresh := a.replaceBucket(msg.GroupID, b)
		fresh.mu.Lock()
		defer fresh.mu.Unlock()
		fresh.messages = append(fresh.messages, msg)
		return Batch{}, false
	}

	if b.elapsed(a.now) >= a.window && len(b.messages) > 0 {
		ready := Batch{GroupID: msg.GroupID, Messages: sortedCopy(b.messages)}
		b.done = true

		fresh := a.replaceBucket(msg.GroupID, b)
		fresh.mu.Lock()
		fresh.messages = append(fresh.messages, msg)
		fresh.mu.Unlock()

		return ready, true
	}

	b.messages = append(b.messages, msg)
	if b.elapsed(a.now) >= a.window {
		ready := Batch{GroupID: msg.GroupID, Messages: sortedCopy(b.messages)}
		b.done = true
		a.removeBucket(msg.GroupID, b)
		return ready, true
	}

	return Batch{}, false
}

// FlushReady returns and removes every bucket whose elapsed time has reached
// the window, skipping any bucket currently held by a concurrent Add (a
// try-lock: FlushReady never blocks on contention).
func (a *Aggregator) FlushReady() []Batch {
	a.topLevel.Lock()
	candidates := make(map[string]*bucket, len(a.buckets))
	for groupID, b := range a.buckets {
		candidates[groupID] = b
	}
	a.topLevel.Unlock()

	var ready []Batch
	for groupID, b := range candidates {
		if !b.mu.TryLock() {
			continue
		}
		if !b.done && b.elapsed(a.now) >= a.window && len(b.messages) > 0 {
			ready = append(ready, Batch{GroupID: groupID, Messages: sortedCopy(b.messages)})
			b.done = true
			a.removeBucket(groupID, b)
		}
		b.mu.Unlock()
	}

	return ready
}

func (a *Aggregator) bucketFor(groupID string) *bucket {
	a.topLevel.Lock()
	defer a.topLevel.Unlock()

	if existing, ok := a.buckets[groupID]; ok {
		return existing
	}
	fresh := &bucket{startedAt: a.now()}
	a.buckets[groupID] = fresh
	return fresh
}

// replaceBucket swaps out old for a newly started bucket under the
// top-level lock, but only if old is still the bucket on record (guards
// against a concurrent replacement racing in between).
func (a *Aggregator) replaceBucket(groupID string, old *bucket) *bucket {
	a.topLevel.Lock()
	defer a.topLevel.Unlock()

	if current, ok := a.buckets[groupID]; !ok || current == old {
		fresh := &bucket{startedAt: a.now()}
		a.buckets[groupID] = fresh
		return fresh
	}
	return a.buckets[groupID]
}

func (a *Aggregator) removeBucket(groupID string, expected *bucket) {
	a.topLevel.Lock()
	defer a.topLevel.Unlock()

	if current, ok := a.buckets[groupID]; ok && current == expected {
		delete(a.buckets, groupID)
	}
}

func sortedCopy(messages []Message) []Message {
	out := make([]Message, len(messages))
	copy(out, messages)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}
