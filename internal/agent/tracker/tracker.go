// Package tracker accumulates local activity counters while a workday
// session is bound and ships them to the server on a fixed cadence.
package tracker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"workpulse/internal/apiclient"
	"workpulse/internal/apierr"
	"workpulse/internal/clock"
)

type Sink interface {
	IngestActivity(ctx context.Context, b apiclient.Batch) error
}

// Probe reads OS activity signals.
type Probe interface {
	IdleTime(ctx context.Context) (time.Duration, error)
	ActiveApp(ctx context.Context) (string, error)
}

type Config struct {
	SampleInterval   time.Duration
	TransmitInterval time.Duration
	// IdleThreshold is the longest idle time still counted as active.
	IdleThreshold  time.Duration
	RequestTimeout time.Duration
}

func (c *Config) setDefaults() {
	if c.SampleInterval <= 0 {
		c.SampleInterval = 3 * time.Second
	}
	if c.TransmitInterval <= 0 {
		c.TransmitInterval = 30 * time.Second
	}
	if c.IdleThreshold <= 0 {
		c.IdleThreshold = 60 * time.Second
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = apiclient.DefaultTimeout
	}
}

// Pseudo-activity added per active sample. Recent input scores higher than
// input that is several seconds old.
const (
	recentMouse, recentKeys = 10, 5
	staleMouse, staleKeys   = 2, 1
	resumeMouse, resumeKeys = 5, 2
)

// Session is the bound workday, or the zero value when Stopped.
type Session struct {
	AttendanceID string
	IsTracking   bool
	StartedAt    time.Time
}

type session struct {
	attendanceID string
	startedAt    time.Time
	cancel       context.CancelFunc
	loops        sync.WaitGroup
	stopping     bool
}

type counters struct {
	mouse          int
	keys           int
	activeApp      string
	lastActivityAt time.Time
	idle           bool
}

// Tracker is Stopped or Tracking. At most one transmission is in flight at
// a time.
type Tracker struct {
	sink   Sink
	probe  Probe
	cfg    Config
	clock  clock.Clock
	logger *slog.Logger

	// OnSelfStop is called after the server rejects a batch because the
	// day is no longer active and the tracker stopped itself.
	OnSelfStop func(attendanceID string)

	mu       sync.Mutex
	cur      *session
	counters counters

	sendMu sync.Mutex
}

func New(sink Sink, probe Probe, cfg Config, logger *slog.Logger) *Tracker {
	cfg.setDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		sink:   sink,
		probe:  probe,
		cfg:    cfg,
		clock:  clock.Real(),
		logger: logger.With("component", "tracker"),
	}
}

func (t *Tracker) WithClock(c clock.Clock) *Tracker {
	t.clock = c
	return t
}

func (t *Tracker) Session() Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cur == nil {
		return Session{}
	}
	return Session{AttendanceID: t.cur.attendanceID, IsTracking: true, StartedAt: t.cur.startedAt}
}

func (t *Tracker) Tracking() bool {
	return t.Session().IsTracking
}

// Start binds attendanceID and starts the sampler and the transmitter. The
// transmitter fires once immediately. It returns false, and does nothing,
// when already tracking.
func (t *Tracker) Start(attendanceID string) bool {
	ctx, cancel := context.WithCancel(context.Background())
	s := t.bind(attendanceID, cancel)
	if s == nil {
		cancel()
		return false
	}

	sampleTicker := t.clock.NewTicker(t.cfg.SampleInterval)
	sendTicker := t.clock.NewTicker(t.cfg.TransmitInterval)

	go func() {
		defer s.loops.Done()
		defer sampleTicker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-sampleTicker.C:
				t.Sample(ctx)
			}
		}
	}()
	go func() {
		defer s.loops.Done()
		defer sendTicker.Stop()
		if ctx.Err() == nil {
			t.transmitFrom(ctx, s)
		}
		for {
			select {
			case <-ctx.Done():
				return
			case <-sendTicker.C:
				t.transmitFrom(ctx, s)
			}
		}
	}()

	t.logger.Info("tracking started", "attendance_id", attendanceID)
	return true
}

// bind resets the counters and makes attendanceID the current session.
func (t *Tracker) bind(attendanceID string, cancel context.CancelFunc) *session {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cur != nil {
		t.logger.Info("already tracking", "attendance_id", t.cur.attendanceID)
		return nil
	}
	now := t.clock.Now()
	t.cur = &session{attendanceID: attendanceID, startedAt: now, cancel: cancel}
	t.cur.loops.Add(2)
	t.counters = counters{lastActivityAt: now}
	return t.cur
}

// Stop cancels both timers, makes one final transmission bounded by the
// request timeout and unbinds the session. It is a no-op when Stopped. If
// the final transmission fails, the last partial interval is dropped.
func (t *Tracker) Stop(ctx context.Context) {
	t.mu.Lock()
	s := t.cur
	if s == nil || s.stopping {
		t.mu.Unlock()
		return
	}
	s.stopping = true
	t.mu.Unlock()

	s.cancel()
	s.loops.Wait()

	if err := t.transmit(ctx, s); err != nil {
		t.logger.Warn("final flush failed, dropping partial interval", "attendance_id", s.attendanceID, "error", err)
	}
	t.unbind(s)
	t.logger.Info("tracking stopped", "attendance_id", s.attendanceID)
}

func (t *Tracker) unbind(s *session) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cur != s {
		return false
	}
	t.cur = nil
	t.counters = counters{}
	return true
}

// Sample reads the OS idle time and, when recent enough, adds
// pseudo-activity to the counters. It never transmits.
func (t *Tracker) Sample(ctx context.Context) {
	idle, err := t.probe.IdleTime(ctx)
	if err != nil {
		t.logger.Debug("idle probe failed", "error", err)
		return
	}
	app, err := t.probe.ActiveApp(ctx)
	if err != nil {
		t.logger.Debug("active app probe failed", "error", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cur == nil {
		return
	}
	c := &t.counters
	if app != "" {
		c.activeApp = app
	}
	if idle > t.cfg.IdleThreshold {
		c.idle = true
		return
	}
	if idle < t.cfg.SampleInterval {
		c.mouse += recentMouse
		c.keys += recentKeys
	} else {
		c.mouse += staleMouse
		c.keys += staleKeys
	}
	if c.idle {
		c.mouse += resumeMouse
		c.keys += resumeKeys
		c.idle = false
	}
	c.lastActivityAt = t.clock.Now().Add(-idle)
}

// Transmit sends the current counters for the bound session. It does
// nothing when Stopped.
func (t *Tracker) Transmit(ctx context.Context) error {
	t.mu.Lock()
	s := t.cur
	t.mu.Unlock()
	if s == nil {
		return nil
	}
	return t.transmitFrom(ctx, s)
}

// transmitFrom is the timer path: a DayNotActive rejection stops the
// tracker without a final flush.
func (t *Tracker) transmitFrom(ctx context.Context, s *session) error {
	err := t.transmit(ctx, s)
	if err == nil {
		return nil
	}
	if apierr.HasCode(err, apierr.CodeDayNotActive) {
		t.selfStop(s)
		return err
	}
	t.logger.Warn("activity transmission failed", "attendance_id", s.attendanceID, "error", err)
	return err
}

func (t *Tracker) transmit(ctx context.Context, s *session) error {
	t.sendMu.Lock()
	defer t.sendMu.Unlock()

	batch, ok := t.snapshot(s)
	if !ok {
		return nil
	}

	reqCtx, cancel := context.WithTimeout(ctx, t.cfg.RequestTimeout)
	defer cancel()
	if err := t.sink.IngestActivity(reqCtx, batch); err != nil {
		return err
	}

	t.mu.Lock()
	if t.cur == s {
		t.counters.mouse -= batch.MouseEvents
		t.counters.keys -= batch.KeyboardEvents
	}
	t.mu.Unlock()
	t.logger.Debug("activity sent", "attendance_id", s.attendanceID,
		"mouse", batch.MouseEvents, "keys", batch.KeyboardEvents, "idle", batch.IdleSeconds)
	return nil
}

func (t *Tracker) snapshot(s *session) (apiclient.Batch, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cur != s {
		return apiclient.Batch{}, false
	}
	now := t.clock.Now()
	interval := int(t.cfg.TransmitInterval / time.Second)
	idle := int(now.Sub(t.counters.lastActivityAt) / time.Second)
	idle = max(0, min(idle, interval))
	return apiclient.Batch{
		AttendanceID:     s.attendanceID,
		Timestamp:        now,
		MouseEvents:      t.counters.mouse,
		KeyboardEvents:   t.counters.keys,
		IdleSeconds:      idle,
		ActiveApp:        t.counters.activeApp,
		IntervalDuration: interval,
	}, true
}

// selfStop handles a DayNotActive rejection from the timer path. It runs on
// a loop goroutine, so it must not wait for the loops.
func (t *Tracker) selfStop(s *session) {
	t.mu.Lock()
	if t.cur != s || s.stopping {
		t.mu.Unlock()
		return
	}
	s.stopping = true
	t.cur = nil
	t.counters = counters{}
	t.mu.Unlock()

	s.cancel()
	t.logger.Warn("server reports no active day, tracking stopped", "attendance_id", s.attendanceID)
	if t.OnSelfStop != nil {
		t.OnSelfStop(s.attendanceID)
	}
}

// RequestTimeout bounds one transmission.
func (t *Tracker) RequestTimeout() time.Duration { return t.cfg.RequestTimeout }
