package bridge

import (
	"context"
	"math"
	"sync"

	"golang.org/x/sync/semaphore"
)

// CommandKind tags a queued command.
type CommandKind int

const (
	CmdTerminate CommandKind = iota
	CmdMotorOn
	CmdMotorOff
	CmdSeek
	CmdSelectSide
	CmdWriteFlush
)

// Command is one entry in the worker's FIFO.
type Command struct {
	Kind     CommandKind
	Cylinder int
	Side     DiskSurface
}

// commandQueue is the FIFO shared between the emulator thread (producer)
// and the worker goroutine (consumer). Enqueue applies the Seek-coalescing
// rule: a trailing Seek has its cylinder overwritten in place
// rather than growing the queue.
type commandQueue struct {
	mu    sync.Mutex
	items []Command
	sem   *semaphore.Weighted
}

func newCommandQueue() *commandQueue {
	sem := semaphore.NewWeighted(math.MaxInt64)
	// Hold every permit up front so the semaphore counts queued commands:
	// each enqueue releases one, each dequeue takes one back.
	sem.TryAcquire(math.MaxInt64)
	return &commandQueue{sem: sem}
}

// enqueue appends cmd, coalescing consecutive Seeks at the back of the
// queue. The worker's semaphore is posted only when a new entry is
// appended -- coalescing never needs an extra post since the queue was
// already non-empty.
func (q *commandQueue) enqueue(cmd Command) {
	q.mu.Lock()
	if cmd.Kind == CmdSeek && len(q.items) > 0 {
		back := &q.items[len(q.items)-1]
		if back.Kind == CmdSeek {
			back.Cylinder = cmd.Cylinder
			q.mu.Unlock()
			return
		}
	}
	q.items = append(q.items, cmd)
	q.mu.Unlock()
	q.sem.Release(1)
}

// size reports the number of pending commands, used by the background
// read callback to decide whether to abort.
func (q *commandQueue) size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// tryDequeue pops the front command without blocking. ok is false if the
// queue was empty.
func (q *commandQueue) tryDequeue() (cmd Command, ok bool) {
	if !q.sem.TryAcquire(1) {
		return Command{}, false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	cmd = q.items[0]
	q.items = q.items[1:]
	return cmd, true
}

// wait blocks until either a command is available (returning true) or ctx
// is done (returning false), without consuming the command -- callers
// still need tryDequeue to actually pop it.
func (q *commandQueue) wait(ctx context.Context) bool {
	if err := q.sem.Acquire(ctx, 1); err != nil {
		return false
	}
	q.sem.Release(1)
	return true
}
