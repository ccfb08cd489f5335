package bridge

import "testing"

func TestEnqueueCoalescesConsecutiveSeeks(t *testing.T) {
	q := newCommandQueue()
	q.enqueue(Command{Kind: CmdSeek, Cylinder: 5})
	q.enqueue(Command{Kind: CmdSeek, Cylinder: 9})
	q.enqueue(Command{Kind: CmdSeek, Cylinder: 12})

	if got := q.size(); got != 1 {
		t.Fatalf("queue size = %d, want 1 after coalescing", got)
	}

	cmd, ok := q.tryDequeue()
	if !ok {
		t.Fatal("expected a command to dequeue")
	}
	if cmd.Kind != CmdSeek || cmd.Cylinder != 12 {
		t.Errorf("dequeued %+v, want Seek(12)", cmd)
	}
	if _, ok := q.tryDequeue(); ok {
		t.Error("expected queue to be empty after dequeuing the coalesced seek")
	}
}

func TestEnqueueDoesNotCoalesceAcrossOtherCommands(t *testing.T) {
	q := newCommandQueue()
	q.enqueue(Command{Kind: CmdSeek, Cylinder: 5})
	q.enqueue(Command{Kind: CmdSelectSide, Side: SurfaceUpper})
	q.enqueue(Command{Kind: CmdSeek, Cylinder: 9})

	if got := q.size(); got != 3 {
		t.Fatalf("queue size = %d, want 3 (a SelectSide in between must block coalescing)", got)
	}
}

func TestEnqueueCoalescingPreservesQueueOrder(t *testing.T) {
	q := newCommandQueue()
	q.enqueue(Command{Kind: CmdMotorOn})
	q.enqueue(Command{Kind: CmdSeek, Cylinder: 1})
	q.enqueue(Command{Kind: CmdSeek, Cylinder: 2})

	if got := q.size(); got != 2 {
		t.Fatalf("queue size = %d, want 2", got)
	}
	first, _ := q.tryDequeue()
	if first.Kind != CmdMotorOn {
		t.Errorf("first dequeued = %+v, want CmdMotorOn", first)
	}
	second, _ := q.tryDequeue()
	if second.Kind != CmdSeek || second.Cylinder != 2 {
		t.Errorf("second dequeued = %+v, want Seek(2)", second)
	}
}
