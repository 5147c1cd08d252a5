package progress

import (
	"context"
	"fmt"
	"time"

	"github.com/JakeFAU/streamwatch/internal/poller"
)

type sinkFunc func(context.Context, []Event) error

func (f sinkFunc) Consume(ctx context.Context, batch []Event) error {
	return f(ctx, batch)
}

func (sinkFunc) Close(context.Context) error {
	return nil
}

// ExampleHub_Emit forwards a discovery to a custom sink and flushes via Close.
func ExampleHub_Emit() {
	var titles []string
	capture := sinkFunc(func(_ context.Context, batch []Event) error {
		for _, evt := range batch {
			if evt.Kind == KindContentDiscovered {
				titles = append(titles, evt.Content.Title)
			}
		}
		return nil
	})
	hub := NewHub(Config{BufferSize: 4, MaxBatchEvents: 1, MaxBatchWait: time.Second}, capture)

	hub.Emit(Event{
		ID:         "00000000-0000-0000-0000-000000000001",
		TS:         time.Unix(0, 0),
		Kind:       KindContentDiscovered,
		ScheduleID: "yt-news",
		Platform:   poller.PlatformYouTube,
		Content:    &poller.ContentItem{ID: "v1", Platform: poller.PlatformYouTube, Title: "Morning live"},
	})
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}

	fmt.Println(titles)
	// Output:
	// [Morning live]
}
