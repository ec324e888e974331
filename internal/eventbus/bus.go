// Package eventbus is a tiny in-process pub/sub used to fan out
// dispatcher lifecycle notices (cache inserts, blocklist reloads) to
// anything that wants to observe them without coupling the dispatcher
// to a particular observer.
package eventbus

import (
	"context"
	"sync"
)

// Topic names the kind of notice carried by an Event.
type Topic string

const (
	// TopicCacheInsert fires whenever the answer cache gains an entry.
	TopicCacheInsert Topic = "cache_insert"
	// TopicBlocklistReload fires after the hosts-style blocklist/overrides
	// file has been (re)loaded.
	TopicBlocklistReload Topic = "blocklist_reload"
	// TopicQueryDenied fires when the rate limiter drops a query.
	TopicQueryDenied Topic = "query_denied"
)

// Event is a single notice published to a Topic.
type Event struct {
	Topic Topic
	Data  interface{}
}

// CacheInsert is the Data payload for TopicCacheInsert.
type CacheInsert struct {
	Name string
	Type uint16
}

// Subscriber receives Events published to the topic it was created for.
type Subscriber struct {
	Ch   <-chan Event
	stop context.CancelFunc
}

// Bus is a topic-keyed, best-effort fan-out broadcaster. Publish never
// blocks: a subscriber whose channel is full simply misses the event.
type Bus struct {
	mu   sync.RWMutex
	subs map[Topic][]chan Event
	buf  int
}

// New creates a Bus whose subscriber channels are buffered to buf.
func New(buf int) *Bus {
	return &Bus{subs: make(map[Topic][]chan Event), buf: buf}
}

// Publish broadcasts data on topic to every current subscriber.
func (b *Bus) Publish(topic Topic, data interface{}) {
	b.mu.RLock()
	chs := b.subs[topic]
	b.mu.RUnlock()
	for _, ch := range chs {
		select {
		case ch <- Event{Topic: topic, Data: data}:
		default:
		}
	}
}

// Subscribe registers for topic; the Subscriber must be Closed (or ctx
// cancelled) to stop receiving and release the channel.
func (b *Bus) Subscribe(ctx context.Context, topic Topic) *Subscriber {
	ch := make(chan Event, b.buf)
	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], ch)
	b.mu.Unlock()

	cctx, cancel := context.WithCancel(ctx)
	go func() {
		<-cctx.Done()
		b.mu.Lock()
		subs := b.subs[topic]
		for i, c := range subs {
			if c == ch {
				b.subs[topic] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		b.mu.Unlock()
		close(ch)
	}()
	return &Subscriber{Ch: ch, stop: cancel}
}

// Close stops the subscription.
func (s *Subscriber) Close() {
	if s.stop != nil {
		s.stop()
	}
}
