package realtime

import (
	"context"
	"testing"
	"time"
)

func TestDispatcherPublishesToSubscriber(t *testing.T) {
	dispatcher := NewDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := dispatcher.Subscribe(ctx, TopicNotes)
	defer cleanup()

	dispatcher.Publish(Event{
		Topic:       TopicNotes,
		Kind:        EventNoteAdded,
		PhoneNumber: "+1555",
		IDs:         []string{"note-a", "note-b"},
	})

	select {
	case received := <-stream:
		if received.Kind != EventNoteAdded {
			t.Fatalf("expected event kind %s, got %s", EventNoteAdded, received.Kind)
		}
		if len(received.IDs) != 2 {
			t.Fatalf("expected 2 ids, got %d", len(received.IDs))
		}
		if received.Timestamp.IsZero() {
			t.Fatalf("expected publish to stamp the event")
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected event within deadline")
	}
}

func TestDispatcherIsolatedByTopic(t *testing.T) {
	dispatcher := NewDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	notesStream, notesCleanup := dispatcher.Subscribe(ctx, TopicNotes)
	defer notesCleanup()
	tagsStream, tagsCleanup := dispatcher.Subscribe(ctx, TopicTags)
	defer tagsCleanup()

	dispatcher.Publish(Event{Topic: TopicTags, Kind: EventTagSet, PhoneNumber: "+1555"})

	select {
	case <-notesStream:
		t.Fatal("did not expect a tags event on the notes topic")
	case <-time.After(200 * time.Millisecond):
	}

	select {
	case msg := <-tagsStream:
		if msg.PhoneNumber != "+1555" {
			t.Fatalf("expected +1555, received %s", msg.PhoneNumber)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected event for subscribed topic")
	}
}

func TestDispatcherKeepsNewestEventWhenBufferFull(t *testing.T) {
	dispatcher := NewDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := dispatcher.Subscribe(ctx, TopicView)
	defer cleanup()

	total := int64(defaultBufferSize * 3)
	for revision := int64(1); revision <= total; revision++ {
		dispatcher.Publish(Event{Topic: TopicView, Kind: EventViewRevision, Revision: revision})
	}

	var last int64
	for {
		select {
		case msg := <-stream:
			last = msg.Revision
			continue
		default:
		}
		break
	}
	if last != total {
		t.Fatalf("expected newest revision %d to be retained, got %d", total, last)
	}
}

func TestDispatcherClosesStreamOnCancel(t *testing.T) {
	dispatcher := NewDispatcher()
	ctx, cancel := context.WithCancel(context.Background())

	stream, _ := dispatcher.Subscribe(ctx, TopicNotes)
	cancel()

	select {
	case _, ok := <-stream:
		if ok {
			t.Fatalf("expected closed stream")
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected stream to close after cancellation")
	}
	if count := dispatcher.SubscriberCount(TopicNotes); count != 0 {
		t.Fatalf("expected subscriber to be removed, got %d", count)
	}

	dispatcher.Publish(Event{Topic: TopicNotes, Kind: EventNoteAdded})
}
