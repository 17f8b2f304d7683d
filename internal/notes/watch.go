package notes

import (
	"context"

	"github.com/MarcoPoloResearchLab/superdialer/internal/realtime"
	"go.uber.org/zap"
)

// WatchNotes streams the notes of phoneNumber: an initial snapshot, then a new
// snapshot after each committed mutation of that number's notes. The channel is
// closed when ctx ends.
func (s *Store) WatchNotes(ctx context.Context, phoneNumber PhoneNumber) <-chan []Note {
	return watchQuery(ctx, s, realtime.TopicNotes, matchPhoneNumber(phoneNumber), func(ctx context.Context) ([]Note, error) {
		return s.ListNotes(ctx, phoneNumber)
	})
}

// WatchAllNotes streams every note after each committed note mutation.
func (s *Store) WatchAllNotes(ctx context.Context) <-chan []Note {
	return watchQuery(ctx, s, realtime.TopicNotes, nil, s.AllNotes)
}

// WatchAllTags streams every tag record after each committed tag mutation.
func (s *Store) WatchAllTags(ctx context.Context) <-chan []Tag {
	return watchQuery(ctx, s, realtime.TopicTags, nil, s.AllTags)
}

// WatchTagLabels streams the distinct tag labels after each committed tag mutation.
func (s *Store) WatchTagLabels(ctx context.Context) <-chan []string {
	return watchQuery(ctx, s, realtime.TopicTags, nil, s.DistinctTagLabels)
}

func matchPhoneNumber(phoneNumber PhoneNumber) func(realtime.Event) bool {
	return func(event realtime.Event) bool {
		return event.PhoneNumber == phoneNumber.String()
	}
}

// watchQuery subscribes before the first read so no commit between the initial
// snapshot and the subscription goes unseen.
func watchQuery[T any](ctx context.Context, s *Store, topic string, match func(realtime.Event) bool, load func(context.Context) (T, error)) <-chan T {
	out := make(chan T, 1)
	events, cleanup := s.dispatcher.Subscribe(ctx, topic)

	go func() {
		defer close(out)
		defer cleanup()

		emit := func() bool {
			snapshot, err := load(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return false
				}
				s.logger.Warn("live query reload failed", zap.String("topic", topic), zap.Error(err))
				return true
			}
			select {
			case out <- snapshot:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if !emit() {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-events:
				if !ok {
					return
				}
				if match != nil && !match(event) {
					continue
				}
				if !emit() {
					return
				}
			}
		}
	}()

	return out
}
