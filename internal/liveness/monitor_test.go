package liveness_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/Tiliavir/duty-time-tracker/internal/kv"
	"github.com/Tiliavir/duty-time-tracker/internal/liveness"
	"github.com/Tiliavir/duty-time-tracker/internal/mocks"
)

var fast = liveness.Config{Interval: 5 * time.Millisecond, Timeout: time.Second}

func waitFor(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for monitor")
		return ""
	}
}

func TestMonitorFiresOnConfirmedDown(t *testing.T) {
	ctrl := gomock.NewController(t)
	probe := mocks.NewMockProbe(ctrl)
	gomock.InOrder(
		probe.EXPECT().Check(gomock.Any()).Return(liveness.Up, nil).Times(2),
		probe.EXPECT().Check(gomock.Any()).Return(liveness.Down, nil).Times(1),
	)

	lost := make(chan string, 1)
	m := liveness.Start("Alice", probe, fast, func(m *liveness.Monitor) { lost <- m.User() })
	defer m.Stop()

	assert.Equal(t, "Alice", waitFor(t, lost))
	<-m.Done()
	assert.Equal(t, liveness.Down, m.Last())
}

func TestMonitorSkipsInconclusiveProbes(t *testing.T) {
	ctrl := gomock.NewController(t)
	probe := mocks.NewMockProbe(ctrl)
	var calls atomic.Int32
	probe.EXPECT().Check(gomock.Any()).DoAndReturn(func(context.Context) (liveness.Signal, error) {
		calls.Add(1)
		return liveness.Unknown, errors.New("dial tcp: connection refused")
	}).AnyTimes()

	var fired atomic.Bool
	m := liveness.Start("Alice", probe, fast, func(*liveness.Monitor) { fired.Store(true) })
	require.Eventually(t, func() bool { return calls.Load() >= 5 }, 2*time.Second, time.Millisecond)
	m.Stop()

	assert.False(t, fired.Load(), "inconclusive probes must not end the session")
	assert.Equal(t, liveness.Unknown, m.Last())
}

func TestMonitorMaxInconclusive(t *testing.T) {
	ctrl := gomock.NewController(t)
	probe := mocks.NewMockProbe(ctrl)
	probe.EXPECT().Check(gomock.Any()).Return(liveness.Unknown, liveness.ErrInconclusive).Times(3)

	cfg := fast
	cfg.MaxInconclusive = 3
	lost := make(chan string, 1)
	m := liveness.Start("Bob", probe, cfg, func(m *liveness.Monitor) { lost <- m.User() })
	defer m.Stop()

	assert.Equal(t, "Bob", waitFor(t, lost))
}

func TestMonitorUpResetsInconclusiveCount(t *testing.T) {
	ctrl := gomock.NewController(t)
	probe := mocks.NewMockProbe(ctrl)
	var n atomic.Int32
	probe.EXPECT().Check(gomock.Any()).DoAndReturn(func(context.Context) (liveness.Signal, error) {
		if n.Add(1)%2 == 0 {
			return liveness.Up, nil
		}
		return liveness.Unknown, liveness.ErrInconclusive
	}).AnyTimes()

	cfg := fast
	cfg.MaxInconclusive = 2
	var fired atomic.Bool
	m := liveness.Start("Carol", probe, cfg, func(*liveness.Monitor) { fired.Store(true) })
	require.Eventually(t, func() bool { return n.Load() >= 8 }, 2*time.Second, time.Millisecond)
	m.Stop()

	assert.False(t, fired.Load())
}

func TestMonitorStopFromCallbackDoesNotDeadlock(t *testing.T) {
	ctrl := gomock.NewController(t)
	probe := mocks.NewMockProbe(ctrl)
	probe.EXPECT().Check(gomock.Any()).Return(liveness.Down, nil).Times(1)

	var m *liveness.Monitor
	ready := make(chan struct{})
	lost := make(chan string, 1)
	m = liveness.Start("Alice", probe, fast, func(self *liveness.Monitor) {
		<-ready
		m.Stop()
		lost <- self.User()
	})
	close(ready)

	assert.Equal(t, "Alice", waitFor(t, lost))
	<-m.Done()
	m.Stop()
}

func TestMonitorStopIsIdempotent(t *testing.T) {
	var nilMonitor *liveness.Monitor
	nilMonitor.Stop()

	ctrl := gomock.NewController(t)
	probe := mocks.NewMockProbe(ctrl)
	probe.EXPECT().Check(gomock.Any()).Return(liveness.Up, nil).AnyTimes()

	m := liveness.Start("Alice", probe, liveness.Config{Interval: time.Hour}, nil)
	m.Stop()
	m.Stop()
	select {
	case <-m.Done():
	default:
		t.Fatal("monitor goroutine still running after Stop")
	}
}

func TestFlagProbe(t *testing.T) {
	s, err := kv.OpenFile(t.TempDir())
	require.NoError(t, err)
	p := liveness.NewFlagProbe(s)

	sig, err := p.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, liveness.Down, sig, "no flag means the game is not running")

	require.NoError(t, liveness.SetFlag(s, true))
	sig, err = p.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, liveness.Up, sig)

	require.NoError(t, liveness.SetFlag(s, false))
	sig, err = p.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, liveness.Down, sig)
}

func TestCheckOnceRejectsUnknownWithoutError(t *testing.T) {
	ctrl := gomock.NewController(t)
	probe := mocks.NewMockProbe(ctrl)
	probe.EXPECT().Check(gomock.Any()).Return(liveness.Unknown, nil)

	_, err := liveness.CheckOnce(context.Background(), probe, 0)
	assert.ErrorIs(t, err, liveness.ErrInconclusive)
}
