package worker

import (
	"sync"

	"github.com/hen6003/iodine/wire"
)

// statusCell is the single piece of cross-goroutine mutable state a
// worker shares with the supervisor: a mutex-guarded ServiceStatus.
// Every read takes and immediately releases the lock.
type statusCell struct {
	mu sync.Mutex
	st wire.ServiceStatus
}

func newStatusCell() *statusCell {
	return &statusCell{st: wire.Down()}
}

func (c *statusCell) get() wire.ServiceStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.st
}

func (c *statusCell) set(st wire.ServiceStatus) {
	c.mu.Lock()
	c.st = st
	c.mu.Unlock()
}
