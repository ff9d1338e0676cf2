package interaction

import (
	"context"
	"sync"
	"time"
)

// DefaultTypingInterval keeps a chat typing indicator alive; platforms expire
// it after roughly ten seconds.
const DefaultTypingInterval = 8 * time.Second

// startTypingTicker sends one typing signal right away and then one per
// interval until the returned stop function is called or ctx ends. Signal
// errors are ignored. stop is idempotent and returns only after the
// background goroutine has exited.
func startTypingTicker(ctx context.Context, signal func(context.Context) error, interval time.Duration) (stop func()) {
	if ctx == nil {
		ctx = context.Background()
	}
	if signal == nil {
		return func() {}
	}
	if interval <= 0 {
		interval = DefaultTypingInterval
	}

	_ = signal(ctx)

	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	exited := make(chan struct{})

	go func() {
		defer close(exited)
		for {
			select {
			case <-ticker.C:
				_ = signal(ctx)
			case <-done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			ticker.Stop()
			<-exited
		})
	}
}
