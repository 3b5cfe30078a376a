package crawler

import (
	"context"
	"time"
)

type noLimit struct{}

func (noLimit) Wait(ctx context.Context) error {
	return ctx.Err()
}

type utcClock struct{}

func (utcClock) Now() time.Time {
	return time.Now().UTC()
}
