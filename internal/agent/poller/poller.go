// Package poller follows the server's workday state and reports
// transitions.
package poller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"workpulse/internal/apiclient"
	"workpulse/internal/clock"
)

const DefaultInterval = 30 * time.Second

type StatusSource interface {
	AttendanceStatus(ctx context.Context) (*apiclient.Status, error)
}

type EventKind int

const (
	DayStarted EventKind = iota + 1
	DayEnded
)

func (k EventKind) String() string {
	switch k {
	case DayStarted:
		return "day-started"
	case DayEnded:
		return "day-ended"
	default:
		return "unknown"
	}
}

// Event is a workday transition. Only DayStarted carries the day fields.
type Event struct {
	Kind         EventKind
	AttendanceID string
	StartTime    time.Time
	WorkLocation string
}

// Poller is Idle until a poll reports an open day, then Active until a poll
// reports none. Each transition is handed to the handler exactly once. A day
// that was closed and reopened between two polls shows up as a new
// attendance id and is reported as DayEnded followed by DayStarted.
// Polls are strictly serialized: the next one is scheduled only after the
// previous one returns.
//
// The handler must not call Stop or Assume.
type Poller struct {
	source   StatusSource
	handler  func(Event)
	interval time.Duration
	clock    clock.Clock
	logger   *slog.Logger

	// deliver serializes handler calls with Stop and Assume, so no event
	// reaches the handler once either has returned.
	deliver sync.Mutex

	mu           sync.Mutex
	active       bool
	attendanceID string
	running      bool
	gen     uint64
	epoch   uint64
	cancel  context.CancelFunc
}

func New(source StatusSource, interval time.Duration, handler func(Event), logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	if handler == nil {
		handler = func(Event) {}
	}
	return &Poller{
		source:   source,
		handler:  handler,
		interval: interval,
		clock:    clock.Real(),
		logger:   logger.With("component", "poller"),
	}
}

func (p *Poller) WithClock(c clock.Clock) *Poller {
	p.clock = c
	return p
}

// Start begins polling with state reset to Idle. It polls immediately and
// is a no-op while already running.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	p.gen++
	p.running = true
	p.active = false
	p.attendanceID = ""
	p.cancel = cancel
	go p.loop(ctx, p.gen)
	p.logger.Info("polling started", "interval", p.interval)
}

// Stop halts the timer. A poll already in flight is left to finish but its
// result is discarded.
func (p *Poller) Stop() {
	p.deliver.Lock()
	defer p.deliver.Unlock()
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return
	}
	p.gen++
	p.running = false
	p.cancel()
	p.logger.Info("polling stopped")
}

func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Active reports the last observed workday state.
func (p *Poller) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// Assume records a transition the caller already acted on, so the poll that
// later observes it emits nothing. A non-empty attendanceID means the day is
// active, empty means it ended. A poll in flight when Assume is called is
// discarded, since its answer may predate the transition.
func (p *Poller) Assume(attendanceID string) {
	p.deliver.Lock()
	defer p.deliver.Unlock()
	p.mu.Lock()
	p.active = attendanceID != ""
	p.attendanceID = attendanceID
	p.epoch++
	p.mu.Unlock()
}

// PollOnce performs a single poll outside the loop. Transport errors are
// returned and leave the state unchanged.
func (p *Poller) PollOnce(ctx context.Context) error {
	p.mu.Lock()
	gen := p.gen
	p.mu.Unlock()
	return p.poll(ctx, gen)
}

func (p *Poller) loop(ctx context.Context, gen uint64) {
	for {
		// The request outlives Stop; its result is dropped by generation.
		_ = p.poll(context.WithoutCancel(ctx), gen)
		select {
		case <-ctx.Done():
			return
		case <-p.clock.After(p.interval):
		}
	}
}

func (p *Poller) poll(ctx context.Context, gen uint64) error {
	p.mu.Lock()
	epoch := p.epoch
	p.mu.Unlock()

	status, err := p.source.AttendanceStatus(ctx)
	if err != nil {
		p.logger.Warn("status poll failed", "error", err)
		return err
	}

	p.deliver.Lock()
	defer p.deliver.Unlock()

	p.mu.Lock()
	if gen != p.gen || epoch != p.epoch {
		p.mu.Unlock()
		p.logger.Debug("discarding stale poll result")
		return nil
	}
	events := p.transitions(status)
	p.mu.Unlock()

	for _, e := range events {
		p.logger.Info("workday transition", "event", e.Kind, "attendance_id", e.AttendanceID)
		p.handler(e)
	}
	return nil
}

// transitions applies status to the state and returns the events it
// implies. p.mu must be held.
func (p *Poller) transitions(status *apiclient.Status) []Event {
	switch {
	case status.DayStarted && !p.active:
		return []Event{p.started(status)}
	case status.DayStarted && p.attendanceID == "":
		p.attendanceID = status.AttendanceID
		return nil
	case status.DayStarted && status.AttendanceID != "" && status.AttendanceID != p.attendanceID:
		p.logger.Info("workday was reopened between polls", "previous_attendance_id", p.attendanceID,
			"attendance_id", status.AttendanceID)
		return []Event{{Kind: DayEnded}, p.started(status)}
	case !status.DayStarted && p.active:
		p.active = false
		p.attendanceID = ""
		return []Event{{Kind: DayEnded}}
	}
	return nil
}

func (p *Poller) started(status *apiclient.Status) Event {
	p.active = true
	p.attendanceID = status.AttendanceID
	e := Event{Kind: DayStarted, AttendanceID: status.AttendanceID, WorkLocation: status.WorkLocation}
	if status.StartTime != nil {
		e.StartTime = *status.StartTime
	}
	return e
}
