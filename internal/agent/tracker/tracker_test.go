package tracker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"workpulse/internal/apiclient"
	"workpulse/internal/apierr"
	"workpulse/internal/clock"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var nineAM = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type fakeSink struct {
	mu      sync.Mutex
	batches []apiclient.Batch
	calls   int
	err     error
}

func (s *fakeSink) IngestActivity(ctx context.Context, b apiclient.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return s.err
	}
	s.batches = append(s.batches, b)
	return nil
}

func (s *fakeSink) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *fakeSink) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *fakeSink) Batches() []apiclient.Batch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]apiclient.Batch(nil), s.batches...)
}

type fakeProbe struct {
	mu   sync.Mutex
	idle time.Duration
	app  string
	err  error
}

func (p *fakeProbe) IdleTime(context.Context) (time.Duration, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.idle, p.err
}

func (p *fakeProbe) ActiveApp(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.app, nil
}

func (p *fakeProbe) setIdle(d time.Duration) {
	p.mu.Lock()
	p.idle = d
	p.mu.Unlock()
}

func newTracker(sink *fakeSink, probe *fakeProbe) (*Tracker, *clock.FakeClock) {
	fake := clock.Fake(nineAM)
	return New(sink, probe, Config{}, nil).WithClock(fake), fake
}

// bindOnly binds a session without starting the timers, so tests can drive
// Sample and Transmit by hand.
func bindOnly(t *testing.T, tr *Tracker, attendanceID string) {
	t.Helper()
	s := tr.bind(attendanceID, func() {})
	require.NotNil(t, s)
	s.loops.Done()
	s.loops.Done()
}

func TestFullHour_OneBatchPerInterval(t *testing.T) {
	sink := &fakeSink{}
	tr, fake := newTracker(sink, &fakeProbe{app: "editor"})
	bindOnly(t, tr, "att-1")
	ctx := context.Background()

	for i := 1; i <= 1200; i++ {
		fake.Advance(3 * time.Second)
		tr.Sample(ctx)
		if i%10 == 0 {
			require.NoError(t, tr.Transmit(ctx))
		}
	}

	batches := sink.Batches()
	require.Len(t, batches, 120)
	for _, b := range batches {
		assert.Equal(t, "att-1", b.AttendanceID)
		assert.Equal(t, 10*recentMouse, b.MouseEvents)
		assert.Equal(t, 10*recentKeys, b.KeyboardEvents)
		assert.Equal(t, 0, b.IdleSeconds)
		assert.Equal(t, 30, b.IntervalDuration)
		assert.Equal(t, "editor", b.ActiveApp)
	}
	assert.True(t, batches[119].Timestamp.Equal(nineAM.Add(time.Hour)))
}

func TestTransmit_FailureKeepsCounters(t *testing.T) {
	sink := &fakeSink{err: apierr.New(apierr.CodeNetwork, "server unreachable")}
	tr, _ := newTracker(sink, &fakeProbe{})
	bindOnly(t, tr, "att-1")
	ctx := context.Background()

	tr.Sample(ctx)
	assert.Error(t, tr.Transmit(ctx))
	assert.True(t, tr.Tracking(), "transient failures must not stop tracking")

	tr.Sample(ctx)
	sink.setErr(nil)
	require.NoError(t, tr.Transmit(ctx))
	require.NoError(t, tr.Transmit(ctx))

	batches := sink.Batches()
	require.Len(t, batches, 2)
	assert.Equal(t, 2*recentMouse, batches[0].MouseEvents)
	assert.Equal(t, 0, batches[1].MouseEvents, "counters reset after a successful send")
}

func TestSample_IdleAndResume(t *testing.T) {
	sink := &fakeSink{}
	probe := &fakeProbe{idle: 2 * time.Minute}
	tr, fake := newTracker(sink, probe)
	bindOnly(t, tr, "att-1")
	ctx := context.Background()

	fake.Advance(45 * time.Second)
	tr.Sample(ctx)
	require.NoError(t, tr.Transmit(ctx))

	probe.setIdle(10 * time.Second)
	tr.Sample(ctx)
	require.NoError(t, tr.Transmit(ctx))

	probe.setIdle(0)
	tr.Sample(ctx)
	require.NoError(t, tr.Transmit(ctx))

	batches := sink.Batches()
	require.Len(t, batches, 3)
	assert.Equal(t, 0, batches[0].MouseEvents)
	assert.Equal(t, 30, batches[0].IdleSeconds, "idle is capped at the interval")
	assert.Equal(t, staleMouse+resumeMouse, batches[1].MouseEvents)
	assert.Equal(t, staleKeys+resumeKeys, batches[1].KeyboardEvents)
	assert.Equal(t, 10, batches[1].IdleSeconds)
	assert.Equal(t, recentMouse, batches[2].MouseEvents)
	assert.Equal(t, 0, batches[2].IdleSeconds)
}

func TestSample_ProbeErrorSkips(t *testing.T) {
	sink := &fakeSink{}
	tr, _ := newTracker(sink, &fakeProbe{err: errors.New("no display")})
	bindOnly(t, tr, "att-1")

	tr.Sample(context.Background())
	require.NoError(t, tr.Transmit(context.Background()))
	assert.Equal(t, 0, sink.Batches()[0].MouseEvents)
}

func TestTransmit_WhenStoppedDoesNothing(t *testing.T) {
	sink := &fakeSink{}
	tr, _ := newTracker(sink, &fakeProbe{})

	tr.Sample(context.Background())
	require.NoError(t, tr.Transmit(context.Background()))
	assert.Equal(t, 0, sink.Calls())
}

func TestStart_TransmitsImmediatelyAndIsIdempotent(t *testing.T) {
	sink := &fakeSink{}
	tr, fake := newTracker(sink, &fakeProbe{})

	require.True(t, tr.Start("att-1"))
	assert.False(t, tr.Start("att-2"))
	assert.Equal(t, "att-1", tr.Session().AttendanceID)
	assert.True(t, tr.Session().StartedAt.Equal(nineAM))

	require.Eventually(t, func() bool { return sink.Calls() == 1 }, time.Second, time.Millisecond)

	fake.Advance(30 * time.Second)
	require.Eventually(t, func() bool { return sink.Calls() == 2 }, time.Second, time.Millisecond)

	tr.Stop(context.Background())
	tr.Stop(context.Background())
	assert.False(t, tr.Tracking())
	assert.Equal(t, 3, sink.Calls(), "one final flush, then nothing")
	assert.Equal(t, 0, fake.Pending(), "timers cleared")
}

func TestStop_FlushesPartialInterval(t *testing.T) {
	sink := &fakeSink{}
	tr, _ := newTracker(sink, &fakeProbe{})

	require.True(t, tr.Start("att-1"))
	require.Eventually(t, func() bool { return sink.Calls() == 1 }, time.Second, time.Millisecond)

	tr.Sample(context.Background())
	tr.Sample(context.Background())
	tr.Stop(context.Background())

	batches := sink.Batches()
	require.Len(t, batches, 2)
	assert.Equal(t, 2*recentMouse, batches[1].MouseEvents)
	assert.Equal(t, Session{}, tr.Session())
}

func TestStop_UnreachableDropsPartialInterval(t *testing.T) {
	sink := &fakeSink{}
	tr, _ := newTracker(sink, &fakeProbe{})

	require.True(t, tr.Start("att-1"))
	require.Eventually(t, func() bool { return sink.Calls() == 1 }, time.Second, time.Millisecond)

	sink.setErr(apierr.New(apierr.CodeNetwork, "server unreachable"))
	tr.Sample(context.Background())
	tr.Stop(context.Background())

	assert.False(t, tr.Tracking())
	assert.Len(t, sink.Batches(), 1)

	// A fresh session starts from zero.
	sink.setErr(nil)
	require.True(t, tr.Start("att-2"))
	require.Eventually(t, func() bool { return len(sink.Batches()) == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, 0, sink.Batches()[1].MouseEvents)
	assert.Equal(t, "att-2", sink.Batches()[1].AttendanceID)
	tr.Stop(context.Background())
}

func TestDayNotActive_SelfStops(t *testing.T) {
	sink := &fakeSink{err: apierr.DayNotActive}
	tr, fake := newTracker(sink, &fakeProbe{})

	stopped := make(chan string, 1)
	tr.OnSelfStop = func(id string) { stopped <- id }

	require.True(t, tr.Start("att-1"))
	select {
	case id := <-stopped:
		assert.Equal(t, "att-1", id)
	case <-time.After(time.Second):
		t.Fatal("tracker did not stop itself")
	}
	assert.False(t, tr.Tracking())

	require.Eventually(t, func() bool { return fake.Pending() == 0 }, time.Second, time.Millisecond)
	fake.Advance(5 * time.Minute)
	assert.Equal(t, 1, sink.Calls(), "no transmissions after self-stop")

	tr.Stop(context.Background())
	assert.Equal(t, 1, sink.Calls(), "stop after self-stop is a no-op")
}
