package resilience

import (
	"context"
	"time"
)

// Hedge calls primary, and additionally calls secondary if primary hasn't
// returned within delay (delay <= 0 starts secondary immediately alongside
// primary). Whichever call succeeds first wins; if both fail, primary's
// error is returned. Useful for racing a warm backend against a cold one,
// or a fast cache path against a slow compute path.
func Hedge[T any](ctx context.Context, primary, secondary func(context.Context) (T, error), delay time.Duration) (T, error) {
	type res struct {
		val T
		err error
	}

	primaryCh := make(chan res, 1)
	secondaryCh := make(chan res, 1)

	go func() {
		v, err := primary(ctx)
		primaryCh <- res{v, err}
	}()

	var secondaryStarted bool
	startSecondary := func() {
		if secondaryStarted {
			return
		}
		secondaryStarted = true
		go func() {
			v, err := secondary(ctx)
			secondaryCh <- res{v, err}
		}()
	}

	if delay <= 0 {
		startSecondary()
	}

	var timerC <-chan time.Time
	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		timerC = timer.C
	}

	var primaryRes, secondaryRes *res
	var zero T

	for {
		if primaryRes != nil && primaryRes.err == nil {
			return primaryRes.val, nil
		}
		if secondaryRes != nil && secondaryRes.err == nil {
			return secondaryRes.val, nil
		}
		if primaryRes != nil && secondaryRes != nil {
			return zero, primaryRes.err
		}

		select {
		case r := <-primaryCh:
			primaryRes = &r
			if r.err != nil {
				startSecondary()
			}
		case r := <-secondaryCh:
			secondaryRes = &r
		case <-timerC:
			timerC = nil
			startSecondary()
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}
