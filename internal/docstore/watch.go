package docstore

import (
	"context"
	"log"
	"sync"
)

// hub fans write notifications out to live queries. Each subscription runs
// its own goroutine; bursts of writes coalesce into a single re-query.
type hub struct {
	mu   sync.Mutex
	subs map[string]map[*subscription]struct{}
}

type subscription struct {
	collection string
	signal     chan struct{}
	done       chan struct{}
	once       sync.Once
}

func newHub() *hub {
	return &hub{subs: map[string]map[*subscription]struct{}{}}
}

func (h *hub) subscribe(ctx context.Context, collection string, load func(context.Context) ([]Record, error), fn func([]Record)) func() {
	sub := &subscription{
		collection: collection,
		signal:     make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	h.mu.Lock()
	if h.subs[collection] == nil {
		h.subs[collection] = map[*subscription]struct{}{}
	}
	h.subs[collection][sub] = struct{}{}
	h.mu.Unlock()
	log.Printf("docstore_watch_start collection=%s subscribers=%d", collection, h.count(collection))

	cancel := func() {
		sub.once.Do(func() {
			close(sub.done)
			h.mu.Lock()
			delete(h.subs[collection], sub)
			h.mu.Unlock()
			log.Printf("docstore_watch_stop collection=%s subscribers=%d", collection, h.count(collection))
		})
	}

	sub.signal <- struct{}{}
	go func() {
		for {
			select {
			case <-ctx.Done():
				cancel()
				return
			case <-sub.done:
				return
			case <-sub.signal:
				records, err := load(ctx)
				if err != nil {
					if ctx.Err() == nil {
						log.Printf("docstore_watch_failed collection=%s err=%v", collection, err)
					}
					continue
				}
				select {
				case <-sub.done:
					return
				default:
				}
				fn(records)
			}
		}
	}()
	return cancel
}

func (h *hub) notify(collection string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs[collection] {
		select {
		case sub.signal <- struct{}{}:
		default:
		}
	}
}

func (h *hub) count(collection string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[collection])
}
