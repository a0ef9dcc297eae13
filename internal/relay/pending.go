package relay

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// PendingExchange correlates one inbound chat message with its single terminal
// outcome. The settled flag guarantees exactly one of success, upstream
// failure, or timeout fires; whichever loses the race becomes a no-op.
type PendingExchange struct {
	ID        string
	Conn      *Conn
	StartedAt time.Time

	settled atomic.Bool
}

// NewPendingExchange opens an exchange for a message on the given connection.
func NewPendingExchange(c *Conn) *PendingExchange {
	return &PendingExchange{
		ID:        uuid.NewString(),
		Conn:      c,
		StartedAt: time.Now(),
	}
}

// Settle claims the terminal emission. Only the first caller gets true; any
// later outcome (a late success racing a timeout) must be dropped.
func (p *PendingExchange) Settle() bool {
	return p.settled.CompareAndSwap(false, true)
}

// Settled reports whether a terminal outcome already fired.
func (p *PendingExchange) Settled() bool {
	return p.settled.Load()
}
