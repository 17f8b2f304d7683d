package realtime

import (
	"context"
	"sync"
	"time"
)

const (
	// TopicNotes carries change notifications for the notes table.
	TopicNotes = "notes"
	// TopicTags carries change notifications for the tags table.
	TopicTags = "tags"
	// TopicView carries published view-state revisions.
	TopicView = "view"

	defaultBufferSize = 16
)

// Event kinds published on the store topics.
const (
	EventNoteAdded    = "note-added"
	EventNoteUpdated  = "note-updated"
	EventNoteDeleted  = "note-deleted"
	EventTagSet       = "tag-set"
	EventTagCleared   = "tag-cleared"
	EventViewRevision = "view-revision"
)

// Event describes a committed change on a topic.
type Event struct {
	Topic       string
	Kind        string
	PhoneNumber string
	IDs         []string
	Revision    int64
	Timestamp   time.Time
}

// Dispatcher fans events out to per-topic subscribers without blocking publishers.
type Dispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*subscriber
	nextID      int64
	bufferSize  int
}

type subscriber struct {
	id     int64
	mu     sync.Mutex
	closed bool
	stream chan Event
}

// NewDispatcher constructs a Dispatcher with the default per-subscriber buffer.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		subscribers: make(map[string]map[int64]*subscriber),
		bufferSize:  defaultBufferSize,
	}
}

// Subscribe registers a stream for topic. The stream is closed once ctx ends or
// the returned cleanup is called.
func (d *Dispatcher) Subscribe(ctx context.Context, topic string) (<-chan Event, func()) {
	if topic == "" {
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}
	sub := &subscriber{
		id:     d.nextSequence(),
		stream: make(chan Event, d.bufferSize),
	}
	d.registerSubscriber(topic, sub)

	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			d.unregisterSubscriber(topic, sub.id)
			sub.close()
		})
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return sub.stream, cleanup
}

// Publish delivers message to every subscriber of its topic. A full subscriber
// buffer loses its oldest pending event so the newest one always lands.
func (d *Dispatcher) Publish(message Event) {
	if message.Topic == "" || message.Kind == "" {
		return
	}
	if message.Timestamp.IsZero() {
		message.Timestamp = time.Now().UTC()
	}
	d.mu.RLock()
	subscribers := d.subscribers[message.Topic]
	if len(subscribers) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*subscriber, 0, len(subscribers))
	for _, sub := range subscribers {
		copies = append(copies, sub)
	}
	d.mu.RUnlock()
	for _, sub := range copies {
		sub.deliver(message)
	}
}

// SubscriberCount reports the number of live subscribers on topic.
func (d *Dispatcher) SubscriberCount(topic string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subscribers[topic])
}

func (s *subscriber) deliver(message Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.stream <- message:
		return
	default:
	}
	select {
	case <-s.stream:
	default:
	}
	select {
	case s.stream <- message:
	default:
	}
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.stream)
}

func (d *Dispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *Dispatcher) registerSubscriber(topic string, sub *subscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[topic]; !ok {
		d.subscribers[topic] = make(map[int64]*subscriber)
	}
	d.subscribers[topic][sub.id] = sub
}

func (d *Dispatcher) unregisterSubscriber(topic string, subscriberID int64) {
	d.mu.Lock()
	subscribers := d.subscribers[topic]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, topic)
		}
	}
	d.mu.Unlock()
}
