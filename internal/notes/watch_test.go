package notes

import (
	"context"
	"testing"
	"time"
)

const watchDeadline = 2 * time.Second

func receiveNotes(t *testing.T, stream <-chan []Note) []Note {
	t.Helper()
	select {
	case snapshot, ok := <-stream:
		if !ok {
			t.Fatalf("stream closed unexpectedly")
		}
		return snapshot
	case <-time.After(watchDeadline):
		t.Fatalf("expected snapshot within deadline")
	}
	return nil
}

func TestWatchNotesEmitsAfterEachCommit(t *testing.T) {
	store, _ := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	number := mustPhoneNumber(t, "+1555")

	stream := store.WatchNotes(ctx, number)
	if initial := receiveNotes(t, stream); len(initial) != 0 {
		t.Fatalf("expected empty initial snapshot, got %d", len(initial))
	}

	created, err := store.AddNote(ctx, number, "call back")
	if err != nil {
		t.Fatalf("unexpected add error: %v", err)
	}
	afterAdd := receiveNotes(t, stream)
	if len(afterAdd) != 1 || afterAdd[0].ID != created.ID {
		t.Fatalf("expected snapshot with the new note, got %#v", afterAdd)
	}

	if _, _, err := store.UpdateNote(ctx, mustNoteID(t, created.ID), "called back"); err != nil {
		t.Fatalf("unexpected update error: %v", err)
	}
	afterUpdate := receiveNotes(t, stream)
	if len(afterUpdate) != 1 || afterUpdate[0].Text != "called back" {
		t.Fatalf("expected updated text in snapshot, got %#v", afterUpdate)
	}

	if _, err := store.DeleteNote(ctx, mustNoteID(t, created.ID)); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}
	if afterDelete := receiveNotes(t, stream); len(afterDelete) != 0 {
		t.Fatalf("expected empty snapshot after delete, got %d", len(afterDelete))
	}
}

func TestWatchNotesIgnoresOtherNumbers(t *testing.T) {
	store, _ := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream := store.WatchNotes(ctx, mustPhoneNumber(t, "+1555"))
	receiveNotes(t, stream)

	if _, err := store.AddNote(ctx, mustPhoneNumber(t, "+1666"), "unrelated"); err != nil {
		t.Fatalf("unexpected add error: %v", err)
	}

	select {
	case snapshot := <-stream:
		t.Fatalf("did not expect a snapshot for another number, got %#v", snapshot)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatchTagLabelsTracksSetAndClear(t *testing.T) {
	store, _ := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	number := mustPhoneNumber(t, "+1555")

	stream := store.WatchTagLabels(ctx)
	receive := func() []string {
		t.Helper()
		select {
		case labels := <-stream:
			return labels
		case <-time.After(watchDeadline):
			t.Fatalf("expected labels within deadline")
		}
		return nil
	}

	if initial := receive(); len(initial) != 0 {
		t.Fatalf("expected no labels initially, got %v", initial)
	}
	if _, err := store.SetTag(ctx, number, "Work"); err != nil {
		t.Fatalf("unexpected set error: %v", err)
	}
	if labels := receive(); len(labels) != 1 || labels[0] != "Work" {
		t.Fatalf("expected [Work], got %v", labels)
	}
	if _, err := store.ClearTag(ctx, number); err != nil {
		t.Fatalf("unexpected clear error: %v", err)
	}
	if labels := receive(); len(labels) != 0 {
		t.Fatalf("expected no labels after clear, got %v", labels)
	}
}

func TestWatchClosesWhenContextEnds(t *testing.T) {
	store, _ := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())

	stream := store.WatchAllTags(ctx)
	select {
	case <-stream:
	case <-time.After(watchDeadline):
		t.Fatalf("expected initial snapshot")
	}
	cancel()

	deadline := time.After(watchDeadline)
	for {
		select {
		case _, ok := <-stream:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatalf("expected stream to close after cancellation")
		}
	}
}
