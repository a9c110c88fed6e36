package safe

import (
	"github.com/nadeko0/wirechat/logger"
)

// Go starts f on a new goroutine that recovers from panics, so a
// misbehaving handler cannot take the whole gateway down.
func Go(f func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorf("[safe.Go] panic recovered: %v", r)
			}
		}()
		f()
	}()
}
