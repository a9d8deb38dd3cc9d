// Package realtime fans out collection snapshots to connected clients.
//
// Clients do not receive row-level diffs. Every change to a collection
// re-runs its fetcher and pushes the full result set, which keeps reconnect
// and catch-up logic trivial on both ends.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// FetchFunc loads the current full snapshot of a collection.
type FetchFunc func(ctx context.Context) (any, error)

// Snapshot is one full-collection payload delivered to a subscriber.
type Snapshot struct {
	Collection string `json:"collection"`
	Data       any    `json:"data"`
}

// ErrUnknownCollection is returned for subscribe or publish calls on a
// collection no fetcher was registered for.
var ErrUnknownCollection = errors.New("unknown collection")

type subscriber struct {
	id         int
	collection string
	ch         chan Snapshot
}

// Broker routes snapshots from publishers to subscribers.
type Broker struct {
	log zerolog.Logger

	mu       sync.RWMutex
	fetchers map[string]FetchFunc
	subs     map[string]map[int]*subscriber
	nextID   int
}

// NewBroker creates an empty broker.
func NewBroker(log zerolog.Logger) *Broker {
	return &Broker{
		log:      log,
		fetchers: make(map[string]FetchFunc),
		subs:     make(map[string]map[int]*subscriber),
	}
}

// Register attaches a snapshot fetcher to a collection name. Registering
// twice replaces the fetcher.
func (b *Broker) Register(collection string, fetch FetchFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fetchers[collection] = fetch
}

// Collections lists the registered collection names.
func (b *Broker) Collections() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, 0, len(b.fetchers))
	for name := range b.fetchers {
		names = append(names, name)
	}
	return names
}

// Subscribe returns a channel that delivers full snapshots of the collection,
// starting with the current state. The cancel function must be called when
// the subscriber goes away; the channel is closed by it.
func (b *Broker) Subscribe(ctx context.Context, collection string) (<-chan Snapshot, func(), error) {
	b.mu.Lock()
	fetch, ok := b.fetchers[collection]
	if !ok {
		b.mu.Unlock()
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownCollection, collection)
	}

	b.nextID++
	sub := &subscriber{
		id:         b.nextID,
		collection: collection,
		// Buffer of one with latest-wins delivery. A slow reader only ever
		// misses intermediate states, never the newest one.
		ch: make(chan Snapshot, 1),
	}
	if b.subs[collection] == nil {
		b.subs[collection] = make(map[int]*subscriber)
	}
	b.subs[collection][sub.id] = sub
	b.mu.Unlock()

	data, err := fetch(ctx)
	if err != nil {
		b.remove(sub)
		return nil, nil, fmt.Errorf("fetch initial snapshot of %s: %w", collection, err)
	}
	// A Publish may have landed between registration and here; deliver the
	// same way it does so a full buffer never blocks.
	deliver(sub, Snapshot{Collection: collection, Data: data})

	cancel := func() { b.remove(sub) }
	return sub.ch, cancel, nil
}

// deliver puts the snapshot into the subscriber's one-slot buffer, replacing
// any stale snapshot already queued there. Never blocks.
func deliver(sub *subscriber, snapshot Snapshot) {
	select {
	case sub.ch <- snapshot:
	default:
		select {
		case <-sub.ch:
		default:
		}
		select {
		case sub.ch <- snapshot:
		default:
		}
	}
}

func (b *Broker) remove(sub *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if subs, ok := b.subs[sub.collection]; ok {
		if _, live := subs[sub.id]; live {
			delete(subs, sub.id)
			close(sub.ch)
		}
	}
}

// Publish re-fetches the collection and pushes the new snapshot to every
// subscriber. Errors are logged, not returned; publishing is best-effort
// and must never fail the write that triggered it.
func (b *Broker) Publish(ctx context.Context, collection string) {
	b.mu.RLock()
	fetch, ok := b.fetchers[collection]
	b.mu.RUnlock()
	if !ok {
		b.log.Warn().Str("collection", collection).Msg("publish on unknown collection")
		return
	}

	data, err := fetch(ctx)
	if err != nil {
		b.log.Error().Err(err).Str("collection", collection).Msg("snapshot fetch failed")
		return
	}
	snapshot := Snapshot{Collection: collection, Data: data}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs[collection] {
		deliver(sub, snapshot)
	}
}
