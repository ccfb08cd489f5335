package bridge

import (
	"context"
	"sync"
)

// mockDevice is a hand-written fake FluxDevice (see hfe_test.go's
// createTestDisk helpers for the same no-mocking-library style).
type mockDevice struct {
	mu sync.Mutex

	opened     bool
	closed     bool
	seeks      []int
	diskStatus DiskStatus
	hasLine    bool

	// streamBits/streamSpeed are served, one revolution's worth, by every
	// ReadStream call; aborted is set if a callback returned false.
	streamBits  []bool
	streamSpeed uint16
	aborted     bool

	writes []pendingWrite
}

func newMockDevice() *mockDevice {
	return &mockDevice{
		diskStatus:  DiskStatus{DiskPresent: true, WriteProtected: false},
		hasLine:     true,
		streamSpeed: NeutralSpeed,
	}
}

func (m *mockDevice) Open(ctx context.Context) error { m.opened = true; return nil }
func (m *mockDevice) Close() error                   { m.closed = true; return nil }
func (m *mockDevice) FindTrack0(ctx context.Context) error { return nil }

func (m *mockDevice) Seek(ctx context.Context, cylinder int, speed SeekSpeed, skipDiskCheck bool) (DiskStatus, error) {
	m.mu.Lock()
	m.seeks = append(m.seeks, cylinder)
	status := m.diskStatus
	m.mu.Unlock()
	return status, nil
}

func (m *mockDevice) SelectHead(ctx context.Context, side DiskSurface) error { return nil }
func (m *mockDevice) SetMotor(ctx context.Context, on bool, noWait bool) error { return nil }

func (m *mockDevice) CheckDisk(ctx context.Context, force bool) (DiskStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.diskStatus, nil
}

func (m *mockDevice) ReadStream(ctx context.Context, maxRevolutions int, fingerprint []byte, cb StreamCallback) error {
	m.mu.Lock()
	bits := append([]bool(nil), m.streamBits...)
	speed := m.streamSpeed
	m.mu.Unlock()

	const batch = 8
	for i := 0; i < len(bits); i += batch {
		end := i + batch
		if end > len(bits) {
			end = len(bits)
		}
		samples := make([]StreamSample, 0, end-i)
		for _, b := range bits[i:end] {
			samples = append(samples, StreamSample{Bit: b, Speed: speed})
		}
		endOfRev := end == len(bits)
		if !cb(samples, endOfRev) {
			m.mu.Lock()
			m.aborted = true
			m.mu.Unlock()
			return nil
		}
	}
	return nil
}

func (m *mockDevice) WriteTrackPrecomp(ctx context.Context, mfmBits []byte, totalBits int, fromIndex bool, usePrecomp bool) error {
	m.mu.Lock()
	m.writes = append(m.writes, pendingWrite{mfm: mfmBits, bits: totalBits, writeFromIdx: fromIndex})
	m.mu.Unlock()
	return nil
}

func (m *mockDevice) AbortStream()          {}
func (m *mockDevice) HasDiskChangeLine() bool { return m.hasLine }
