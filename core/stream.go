package core

import (
	"context"
	"iter"
	"sync"
)

// EventType identifies the kind of event flowing through a stream.
type EventType string

const (
	// EventData carries a payload chunk (e.g. an encoded audio frame).
	EventData EventType = "data"

	// EventDone signals the end of the stream.
	EventDone EventType = "done"

	// EventError signals an error within the stream.
	EventError EventType = "error"
)

// Event is the unit of data flowing through the system. It carries a typed
// payload, an optional error, and arbitrary metadata such as trace IDs,
// latency measurements, or token counts.
type Event[T any] struct {
	// Type identifies the kind of event.
	Type EventType

	// Payload is the event data. Its concrete type depends on Type.
	Payload T

	// Err carries an error for EventError events.
	Err error

	// Meta holds supplementary key-value pairs (trace ID, latency, etc.).
	Meta map[string]any
}

// Stream is a pull-based event iterator built on Go 1.23+ iter.Seq2.
// Consumers use range to iterate:
//
//	for event, err := range stream {
//	    if err != nil { break }
//	    // handle event
//	}
type Stream[T any] = iter.Seq2[Event[T], error]

// CollectStream drains a Stream into a slice, returning all events and the
// first error encountered (if any).
func CollectStream[T any](stream Stream[T]) ([]Event[T], error) {
	var events []Event[T]
	for event, err := range stream {
		if err != nil {
			return events, err
		}
		events = append(events, event)
	}
	return events, nil
}

// MapStream transforms each event in src by applying fn. If fn returns an
// error the mapped stream yields that error and stops.
func MapStream[T, U any](src Stream[T], fn func(Event[T]) (Event[U], error)) Stream[U] {
	return func(yield func(Event[U], error) bool) {
		for event, err := range src {
			if err != nil {
				yield(Event[U]{}, err)
				return
			}
			mapped, mapErr := fn(event)
			if mapErr != nil {
				yield(Event[U]{}, mapErr)
				return
			}
			if !yield(mapped, nil) {
				return
			}
		}
	}
}

// FilterStream returns a Stream that only yields events for which keep
// returns true.
func FilterStream[T any](src Stream[T], keep func(Event[T]) bool) Stream[T] {
	return func(yield func(Event[T], error) bool) {
		for event, err := range src {
			if err != nil {
				yield(Event[T]{}, err)
				return
			}
			if keep(event) {
				if !yield(event, nil) {
					return
				}
			}
		}
	}
}

// MergeStreams merges multiple streams into a single stream. Events from all
// input streams are interleaved in arrival order. The merged stream completes
// when all input streams are exhausted.
func MergeStreams[T any](ctx context.Context, streams ...Stream[T]) Stream[T] {
	return func(yield func(Event[T], error) bool) {
		ch := make(chan eventOrErr[T], len(streams))
		var wg sync.WaitGroup
		wg.Add(len(streams))

		for _, s := range streams {
			go func(s Stream[T]) {
				defer wg.Done()
				for event, err := range s {
					select {
					case <-ctx.Done():
						return
					case ch <- eventOrErr[T]{event: event, err: err}:
						if err != nil {
							return
						}
					}
				}
			}(s)
		}

		go func() {
			wg.Wait()
			close(ch)
		}()

		for item := range ch {
			if !yield(item.event, item.err) {
				return
			}
			if item.err != nil {
				return
			}
		}
	}
}

// eventOrErr bundles an event and its associated error for channel transport.
type eventOrErr[T any] struct {
	event Event[T]
	err   error
}

// FanOut copies a single stream to n consumers. Each consumer receives all
// events independently. The returned slice has n streams.
func FanOut[T any](ctx context.Context, src Stream[T], n int) []Stream[T] {
	chs := make([]chan eventOrErr[T], n)
	for i := range chs {
		chs[i] = make(chan eventOrErr[T], 16)
	}

	go func() {
		defer func() {
			for _, ch := range chs {
				close(ch)
			}
		}()
		for event, err := range src {
			item := eventOrErr[T]{event: event, err: err}
			for _, ch := range chs {
				select {
				case <-ctx.Done():
					return
				case ch <- item:
				}
			}
			if err != nil {
				return
			}
		}
	}()

	streams := make([]Stream[T], n)
	for i := range chs {
		ch := chs[i]
		streams[i] = func(yield func(Event[T], error) bool) {
			for item := range ch {
				if !yield(item.event, item.err) {
					return
				}
				if item.err != nil {
					return
				}
			}
		}
	}
	return streams
}

// BufferedStream wraps a producer stream with an internal channel buffer to
// absorb bursts between a fast producer and a slow consumer. The buffer size
// controls the backpressure threshold.
type BufferedStream[T any] struct {
	ch   chan eventOrErr[T]
	done chan struct{}
	once sync.Once
}

// NewBufferedStream starts consuming src into an internal buffer of the given
// size and returns a BufferedStream that can be iterated. Cancel ctx to stop
// the background goroutine.
func NewBufferedStream[T any](ctx context.Context, src Stream[T], bufSize int) *BufferedStream[T] {
	if bufSize < 1 {
		bufSize = 1
	}
	bs := &BufferedStream[T]{
		ch:   make(chan eventOrErr[T], bufSize),
		done: make(chan struct{}),
	}

	go func() {
		defer close(bs.ch)
		defer close(bs.done)
		for event, err := range src {
			select {
			case <-ctx.Done():
				return
			case bs.ch <- eventOrErr[T]{event: event, err: err}:
			}
			if err != nil {
				return
			}
		}
	}()

	return bs
}

// Iter returns an iter.Seq2 that drains the buffered stream. It is safe to
// call Iter only once.
func (bs *BufferedStream[T]) Iter() Stream[T] {
	return func(yield func(Event[T], error) bool) {
		for item := range bs.ch {
			if !yield(item.event, item.err) {
				return
			}
			if item.err != nil {
				return
			}
		}
	}
}

// Len returns the current number of buffered events.
func (bs *BufferedStream[T]) Len() int {
	return len(bs.ch)
}

// Cap returns the buffer capacity.
func (bs *BufferedStream[T]) Cap() int {
	return cap(bs.ch)
}

// FlowController bounds concurrent access to a shared resource via a
// counting semaphore. Unlike internal/syncutil.Semaphore (used for the
// per-backend ANE/GPU/CPU routing slots), FlowController is exported for use
// by any caller that needs simple admission control without pulling in the
// backend package.
type FlowController struct {
	sem chan struct{}
}

// NewFlowController creates a FlowController allowing up to maxConcurrency
// concurrent holders. maxConcurrency < 1 is clamped to 1.
func NewFlowController(maxConcurrency int) *FlowController {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	return &FlowController{sem: make(chan struct{}, maxConcurrency)}
}

// Acquire blocks until a slot is free or ctx is done.
func (fc *FlowController) Acquire(ctx context.Context) error {
	select {
	case fc.sem <- struct{}{}:
		return nil
	default:
	}
	select {
	case fc.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryAcquire acquires a slot without blocking, reporting whether it succeeded.
func (fc *FlowController) TryAcquire() bool {
	select {
	case fc.sem <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release frees a slot. Safe to call without a matching Acquire; it never
// blocks and the count never goes negative.
func (fc *FlowController) Release() {
	select {
	case <-fc.sem:
	default:
	}
}
