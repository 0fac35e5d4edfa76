package duty_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/Tiliavir/duty-time-tracker/internal/duty"
	"github.com/Tiliavir/duty-time-tracker/internal/kv"
	"github.com/Tiliavir/duty-time-tracker/internal/liveness"
	"github.com/Tiliavir/duty-time-tracker/internal/mocks"
	"github.com/Tiliavir/duty-time-tracker/internal/model"
	"github.com/Tiliavir/duty-time-tracker/internal/notify"
	"github.com/Tiliavir/duty-time-tracker/internal/seal"
	"github.com/Tiliavir/duty-time-tracker/internal/storage"
)

type clock struct{ ms atomic.Int64 }

func newClock(ms int64) *clock {
	c := &clock{}
	c.ms.Store(ms)
	return c
}

func (c *clock) Now() time.Time { return time.UnixMilli(c.ms.Load()) }
func (c *clock) Set(ms int64)   { c.ms.Store(ms) }

func openStore(t *testing.T) *kv.FileStore {
	t.Helper()
	s, err := kv.OpenFile(t.TempDir())
	require.NoError(t, err)
	return s
}

func newService(t *testing.T, store kv.Store, c *clock, opts duty.Options) *duty.Service {
	t.Helper()
	opts.Location = time.UTC
	opts.Now = c.Now
	svc := duty.NewService(store, seal.Plain{}, opts)
	t.Cleanup(svc.Close)
	return svc
}

func TestStartEnd(t *testing.T) {
	ctx := context.Background()
	c := newClock(1_000)
	svc := newService(t, openStore(t), c, duty.Options{})

	assert.Equal(t, model.DutyStatus{}, svc.Status("Alice"))

	st, err := svc.Start(ctx, "Alice")
	require.NoError(t, err)
	require.True(t, st.Active)
	assert.Equal(t, int64(1_000), *st.StartedAt)
	assert.Equal(t, st, svc.Status("Alice"))

	_, err = svc.Start(ctx, "Alice")
	assert.ErrorIs(t, err, duty.ErrAlreadyActive)

	c.Set(3_726_000)
	rec, err := svc.End(ctx, "Alice")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, int64(3_725), rec.DurationSeconds)
	assert.Equal(t, "01:02:05", rec.FormattedDuration)
	assert.Equal(t, "01/01/1970", rec.Date)
	assert.Equal(t, "00:00:01", rec.StartClock)
	assert.Equal(t, "01:02:06", rec.EndClock)
	assert.Equal(t, int64(3_726_000), rec.SortKey)
	assert.Equal(t, model.EndManual, rec.EndReason)
	assert.NotEmpty(t, rec.ID)

	assert.False(t, svc.Status("Alice").Active)
	assert.Equal(t, []model.DutyRecord{*rec}, svc.Records("Alice"))

	again, err := svc.End(ctx, "Alice")
	require.NoError(t, err)
	assert.Nil(t, again, "ending an inactive session is a no-op")
	assert.Len(t, svc.Records("Alice"), 1)
}

func TestImmediateStopRecordsZeroSeconds(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, openStore(t), newClock(5_000), duty.Options{})

	_, err := svc.Start(ctx, "Alice")
	require.NoError(t, err)
	rec, err := svc.End(ctx, "Alice")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, int64(0), rec.DurationSeconds)
	assert.Equal(t, "00:00:00", rec.FormattedDuration)
	assert.Greater(t, rec.EndedAt, rec.StartedAt)
}

func TestLivenessLossEndsSession(t *testing.T) {
	ctrl := gomock.NewController(t)
	probe := mocks.NewMockProbe(ctrl)
	notifier := mocks.NewMockNotifier(ctrl)
	c := newClock(1_000)

	probe.EXPECT().Check(gomock.Any()).DoAndReturn(func(context.Context) (liveness.Signal, error) {
		c.Set(4_000)
		return liveness.Down, nil
	}).Times(1)

	noticed := make(chan notify.Notice, 1)
	notifier.EXPECT().Notify(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, n notify.Notice) error {
		noticed <- n
		return nil
	}).Times(1)

	store := openStore(t)
	svc := newService(t, store, c, duty.Options{
		Probe:    probe,
		Liveness: liveness.Config{Interval: 5 * time.Millisecond, Timeout: time.Second},
		Notifier: notifier,
	})

	_, err := svc.Start(context.Background(), "Alice")
	require.NoError(t, err)
	assert.True(t, svc.Monitoring("Alice"))

	var n notify.Notice
	select {
	case n = <-noticed:
	case <-time.After(2 * time.Second):
		t.Fatal("liveness loss was not noticed")
	}
	assert.Equal(t, "Alice", n.User)
	assert.Contains(t, n.Message, "00:00:03")

	records := svc.Records("Alice")
	require.Len(t, records, 1)
	assert.Equal(t, int64(1_000), records[0].StartedAt)
	assert.Equal(t, int64(4_000), records[0].EndedAt)
	assert.Equal(t, int64(3), records[0].DurationSeconds)
	assert.Equal(t, model.EndLiveness, records[0].EndReason)
	assert.Equal(t, model.DutyStatus{}, svc.Status("Alice"))
	assert.False(t, svc.Monitoring("Alice"))
}

func TestInconclusiveProbesKeepSessionRunning(t *testing.T) {
	ctrl := gomock.NewController(t)
	probe := mocks.NewMockProbe(ctrl)
	var calls atomic.Int32
	probe.EXPECT().Check(gomock.Any()).DoAndReturn(func(context.Context) (liveness.Signal, error) {
		calls.Add(1)
		return liveness.Unknown, liveness.ErrInconclusive
	}).AnyTimes()

	svc := newService(t, openStore(t), newClock(1_000), duty.Options{
		Probe:    probe,
		Liveness: liveness.Config{Interval: 5 * time.Millisecond},
	})
	_, err := svc.Start(context.Background(), "Alice")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return calls.Load() >= 3 }, 2*time.Second, time.Millisecond)
	assert.True(t, svc.Status("Alice").Active)

	rec, err := svc.End(context.Background(), "Alice")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.False(t, svc.Monitoring("Alice"), "End stops the monitor")
}

func TestStartRequiresLiveServer(t *testing.T) {
	tests := []struct {
		name    string
		signal  liveness.Signal
		err     error
		wantErr error
	}{
		{name: "confirmed down refuses", signal: liveness.Down, wantErr: duty.ErrNotLive},
		{name: "up starts", signal: liveness.Up},
		{name: "inconclusive starts", signal: liveness.Unknown, err: errors.New("timeout")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			probe := mocks.NewMockProbe(ctrl)
			probe.EXPECT().Check(gomock.Any()).Return(tt.signal, tt.err).Times(1)

			svc := newService(t, openStore(t), newClock(1_000), duty.Options{
				Probe:       probe,
				Liveness:    liveness.Config{Interval: time.Hour},
				RequireLive: true,
			})
			st, err := svc.Start(context.Background(), "Alice")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.False(t, svc.Status("Alice").Active)
				assert.False(t, svc.Monitoring("Alice"))
				return
			}
			require.NoError(t, err)
			assert.True(t, st.Active)
			assert.True(t, svc.Monitoring("Alice"))
		})
	}
}

// failingStore fails every transactional write to one key.
type failingStore struct {
	kv.Store
	key string
}

type failingTx struct {
	kv.Tx
	key string
}

func (f failingTx) Set(key, value string) error {
	if key == f.key {
		return kv.ErrUnavailable
	}
	return f.Tx.Set(key, value)
}

func (f failingStore) WithTransaction(ctx context.Context, fn func(tx kv.Tx) error) error {
	return f.Store.WithTransaction(ctx, func(tx kv.Tx) error {
		return fn(failingTx{Tx: tx, key: f.key})
	})
}

// flakyStore fails the next transactional write to key once armed.
type flakyStore struct {
	kv.Store
	key   string
	armed *atomic.Bool
}

type flakyTx struct {
	kv.Tx
	key   string
	armed *atomic.Bool
}

func (f flakyTx) Set(key, value string) error {
	if key == f.key && f.armed.CompareAndSwap(true, false) {
		return kv.ErrUnavailable
	}
	return f.Tx.Set(key, value)
}

func (f flakyStore) WithTransaction(ctx context.Context, fn func(tx kv.Tx) error) error {
	return f.Store.WithTransaction(ctx, func(tx kv.Tx) error {
		return fn(flakyTx{Tx: tx, key: f.key, armed: f.armed})
	})
}

func TestFailedForcedEndIsRetried(t *testing.T) {
	ctrl := gomock.NewController(t)
	probe := mocks.NewMockProbe(ctrl)
	var checks atomic.Int32
	probe.EXPECT().Check(gomock.Any()).DoAndReturn(func(context.Context) (liveness.Signal, error) {
		checks.Add(1)
		return liveness.Down, nil
	}).AnyTimes()

	armed := &atomic.Bool{}
	store := flakyStore{Store: openStore(t), key: storage.StatusKey("Alice"), armed: armed}
	svc := newService(t, store, newClock(1_000), duty.Options{
		Probe:    probe,
		Liveness: liveness.Config{Interval: 5 * time.Millisecond, Timeout: time.Second},
	})

	_, err := svc.Start(context.Background(), "Alice")
	require.NoError(t, err)
	armed.Store(true)

	require.Eventually(t, func() bool {
		return !armed.Load() && !svc.Monitoring("Alice")
	}, 2*time.Second, 5*time.Millisecond, "failed end leaves no dead monitor behind")
	assert.True(t, svc.Status("Alice").Active, "session survives the failed end")
	before := checks.Load()

	require.NoError(t, svc.Reconcile(context.Background()))
	require.Eventually(t, func() bool {
		return !svc.Status("Alice").Active
	}, 2*time.Second, 5*time.Millisecond, "the new monitor ends the session")
	assert.Greater(t, checks.Load(), before)

	records := svc.Records("Alice")
	require.Len(t, records, 1)
	assert.Equal(t, model.EndLiveness, records[0].EndReason)
	assert.False(t, svc.Monitoring("Alice"))
}

func TestEndIsAtomic(t *testing.T) {
	ctx := context.Background()
	c := newClock(1_000)
	base := openStore(t)
	_, err := newService(t, base, c, duty.Options{}).Start(ctx, "Alice")
	require.NoError(t, err)

	c.Set(9_000)
	broken := newService(t, failingStore{Store: base, key: storage.StatusKey("Alice")}, c, duty.Options{})
	_, err = broken.End(ctx, "Alice")
	require.ErrorIs(t, err, kv.ErrUnavailable)

	svc := newService(t, base, c, duty.Options{})
	assert.True(t, svc.Status("Alice").Active, "status untouched when the transaction fails")
	assert.Empty(t, svc.Records("Alice"), "no record appended when the transaction fails")

	rec, err := svc.End(ctx, "Alice")
	require.NoError(t, err)
	assert.Equal(t, int64(8), rec.DurationSeconds, "elapsed time is still recoverable")
}

func TestConcurrentEndRecordsOnce(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, openStore(t), newClock(1_000), duty.Options{})
	_, err := svc.Start(ctx, "Alice")
	require.NoError(t, err)

	var wg sync.WaitGroup
	var ended atomic.Int32
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if rec, err := svc.End(ctx, "Alice"); err == nil && rec != nil {
				ended.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), ended.Load())
	assert.Len(t, svc.Records("Alice"), 1)
}

func TestCorruptBlobsAreQuarantined(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	require.NoError(t, store.Set(storage.HistoryKey("Alice"), "[{broken"))
	require.NoError(t, store.Set(storage.StatusKey("Bob"), `{"isActive":true,"startTime":null}`))

	svc := newService(t, store, newClock(1_000), duty.Options{})
	assert.Empty(t, svc.Records("Alice"))
	backup, ok, err := store.Get(storage.HistoryKey("Alice") + storage.CorruptSuffix)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "[{broken", backup)

	assert.Equal(t, model.DutyStatus{}, svc.Status("Bob"))
	_, ok, _ = store.Get(storage.StatusKey("Bob") + storage.CorruptSuffix)
	assert.True(t, ok)

	_, err = svc.Start(ctx, "Bob")
	require.NoError(t, err, "a corrupt status reads as inactive")

	_, err = svc.Start(ctx, "Alice")
	require.NoError(t, err)
	rec, err := svc.End(ctx, "Alice")
	require.NoError(t, err)
	assert.Equal(t, []model.DutyRecord{*rec}, svc.Records("Alice"))
}

func TestReconcileAndClose(t *testing.T) {
	ctrl := gomock.NewController(t)
	probe := mocks.NewMockProbe(ctrl)
	probe.EXPECT().Check(gomock.Any()).Return(liveness.Up, nil).AnyTimes()

	store := openStore(t)
	c := newClock(1_000)
	require.NoError(t, storage.Save(store, seal.Plain{}, storage.StatusKey("Alice"), model.ActiveSince(500)))
	require.NoError(t, storage.Save(store, seal.Plain{}, storage.StatusKey("Bob"), model.DutyStatus{}))

	svc := newService(t, store, c, duty.Options{Probe: probe, Liveness: liveness.Config{Interval: time.Hour}})
	require.NoError(t, svc.Reconcile(context.Background()))
	assert.True(t, svc.Monitoring("Alice"))
	assert.False(t, svc.Monitoring("Bob"))

	other := newService(t, store, c, duty.Options{})
	_, err := other.End(context.Background(), "Alice")
	require.NoError(t, err)

	require.NoError(t, svc.Reconcile(context.Background()))
	assert.False(t, svc.Monitoring("Alice"), "monitor dropped once the session ended elsewhere")

	_, err = svc.Start(context.Background(), "Bob")
	require.NoError(t, err)
	svc.Close()
	assert.False(t, svc.Monitoring("Bob"))
	assert.True(t, svc.Status("Bob").Active, "Close leaves sessions running")
}
