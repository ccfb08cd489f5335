package bridge

import (
	"context"
	"testing"
)

func TestPollDiskLatchesChangeOnTransition(t *testing.T) {
	dev := newMockDevice()
	dev.diskStatus = DiskStatus{DiskPresent: false}
	cache := NewTrackCache()
	w := newWorker(dev, cache, newCommandQueue())
	ctx := context.Background()

	w.pollDisk(ctx) // false -> false, no transition
	if w.consumeDiskChanged() {
		t.Error("expected no change latched when presence is unchanged")
	}

	dev.diskStatus = DiskStatus{DiskPresent: true}
	w.lastDiskPoll = w.lastDiskPoll.Add(-diskPollAbsentWithLine)
	w.pollDisk(ctx) // false -> true
	if !w.consumeDiskChanged() {
		t.Error("expected a change latched on false->true transition")
	}
	if w.consumeDiskChanged() {
		t.Error("expected consumeDiskChanged to clear the latch")
	}

	dev.diskStatus = DiskStatus{DiskPresent: false}
	w.lastDiskPoll = w.lastDiskPoll.Add(-diskPollPresentWithLine)
	w.pollDisk(ctx) // true -> false
	if !w.consumeDiskChanged() {
		t.Error("expected a change latched on true->false transition")
	}
}
