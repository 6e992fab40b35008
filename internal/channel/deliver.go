package channel

import (
	"context"
	"sync"

	"github.com/soyeahso/helpdesk/internal/domain"
)

// Deliver runs handler on every message of a polled batch concurrently and
// reports which ones finished. Only those may be marked read; the rest are
// picked up again by the next poll. A nil handler finishes nothing.
func Deliver(ctx context.Context, handler domain.MessageHandler, msgs []domain.Message) []bool {
	done := make([]bool, len(msgs))
	if handler == nil {
		return done
	}
	var wg sync.WaitGroup
	for i, msg := range msgs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			done[i] = handler(ctx, msg) == nil
		}()
	}
	wg.Wait()
	return done
}
