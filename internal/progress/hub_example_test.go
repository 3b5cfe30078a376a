package progress

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type exampleCountingSink struct {
	total int
}

func (s *exampleCountingSink) Consume(_ context.Context, batch []Event) error {
	s.total += len(batch)
	return nil
}

func (s *exampleCountingSink) Close(context.Context) error {
	return nil
}

// ExampleHub_Emit demonstrates emitting an event and flushing via Close.
func ExampleHub_Emit() {
	sink := &exampleCountingSink{}
	hub := NewHub(Config{
		BufferSize:     4,
		MaxBatchEvents: 1,
		MaxBatchWait:   time.Second,
	}, sink)

	hub.Emit(Event{
		CycleID: UUIDToBytes(uuid.MustParse("00000000-0000-0000-0000-000000000001")),
		TS:      time.Unix(0, 0),
		Stage:   StageCycleStart,
	})
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}

	fmt.Printf("events forwarded: %d\n", sink.total)
	// Output:
	// events forwarded: 1
}

// ExampleSink implements a custom Sink that totals discovered links.
func ExampleSink() {
	var links int64
	capture := sinkFunc(func(_ context.Context, batch []Event) error {
		for _, evt := range batch {
			links += evt.Links
		}
		return nil
	})
	hub := NewHub(Config{
		BufferSize:     2,
		MaxBatchEvents: 1,
		MaxBatchWait:   time.Second,
	}, capture)

	hub.Emit(Event{
		CycleID: UUIDToBytes(uuid.MustParse("00000000-0000-0000-0000-000000000002")),
		TS:      time.Unix(0, 0),
		Stage:   StagePageDone,
		Page:    0,
		Links:   7,
	})
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}

	fmt.Printf("links discovered: %d\n", links)
	// Output:
	// links discovered: 7
}

type sinkFunc func(context.Context, []Event) error

func (f sinkFunc) Consume(ctx context.Context, batch []Event) error {
	return f(ctx, batch)
}

func (sinkFunc) Close(context.Context) error {
	return nil
}
