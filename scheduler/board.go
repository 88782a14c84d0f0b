package scheduler

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/kathan-shah07/fundrag/core"
	"github.com/kathan-shah07/fundrag/ingestion"
)

// Board holds the published run status. Writers build a new snapshot from
// a copy of the current one and swap it in; readers never observe a
// partially applied update.
type Board struct {
	mu  sync.Mutex // serializes writers
	cur atomic.Pointer[core.RunStatus]
}

var _ ingestion.StatusSink = (*Board)(nil)

// NewBoard returns a board in the idle state.
func NewBoard() *Board {
	b := &Board{}
	b.cur.Store(core.IdleStatus(time.Now().UTC()))
	return b
}

// UpdateStatus applies fn to a copy of the current status and publishes it.
func (b *Board) UpdateStatus(fn func(*core.RunStatus)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	next := b.cur.Load().Clone()
	fn(next)
	b.cur.Store(next)
}

// Status returns a copy of the latest snapshot.
func (b *Board) Status() *core.RunStatus {
	return b.cur.Load().Clone()
}
