// Package agent coordinates authentication, the status poller and the
// activity tracker for one desktop session.
package agent

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"workpulse/internal/agent/poller"
	"workpulse/internal/agent/tracker"
	"workpulse/internal/apiclient"
	"workpulse/internal/apierr"
	"workpulse/internal/clock"
)

// API is the subset of the server API the agent uses.
type API interface {
	SetToken(token string)
	Login(ctx context.Context, email, password string) (*apiclient.LoginResult, error)
	StartDay(ctx context.Context, userID string, req apiclient.DayRequest) (*apiclient.StartDayResult, error)
	EndDay(ctx context.Context, userID string, req apiclient.DayRequest) error
	AttendanceStatus(ctx context.Context) (*apiclient.Status, error)
	IngestActivity(ctx context.Context, b apiclient.Batch) error
}

// StateStore persists the token and consent across restarts.
type StateStore interface {
	Token(ctx context.Context) (string, error)
	SetToken(ctx context.Context, token string) error
	Consent(ctx context.Context) (bool, error)
	SetConsent(ctx context.Context, granted bool) error
}

type Config struct {
	PollInterval  time.Duration
	Tracker       tracker.Config
	ShutdownGrace time.Duration
}

// State is a snapshot handed to observers.
type State struct {
	LoggedIn     bool
	UserID       string
	Email        string
	Consent      bool
	DayActive    bool
	AttendanceID string
	DayStartedAt time.Time
	WorkLocation string
	Tracking     bool
}

var ErrNotLoggedIn = apierr.New(apierr.CodeUnauthorized, "not logged in")

type Agent struct {
	api     API
	store   StateStore
	poller  *poller.Poller
	tracker *tracker.Tracker
	cfg     Config
	clock   clock.Clock
	logger  *slog.Logger

	mu        sync.Mutex
	state     State
	observers []func(State)
	runCtx    context.Context
	running   bool
}

func New(api API, store StateStore, probe tracker.Probe, cfg Config, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 5 * time.Second
	}
	a := &Agent{api: api, store: store, cfg: cfg, clock: clock.Real(), logger: logger, runCtx: context.Background()}
	watched := &authWatch{API: api, rejected: a.sessionRejected}
	a.poller = poller.New(watched, cfg.PollInterval, a.onDayEvent, logger)
	a.tracker = tracker.New(watched, probe, cfg.Tracker, logger)
	a.tracker.OnSelfStop = a.onSelfStop
	return a
}

func (a *Agent) WithClock(c clock.Clock) *Agent {
	a.clock = c
	a.poller.WithClock(c)
	a.tracker.WithClock(c)
	return a
}

// Subscribe registers fn to receive every state change.
func (a *Agent) Subscribe(fn func(State)) {
	a.mu.Lock()
	a.observers = append(a.observers, fn)
	a.mu.Unlock()
}

func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Agent) update(fn func(*State)) {
	a.mu.Lock()
	fn(&a.state)
	snapshot := a.state
	observers := append([]func(State){}, a.observers...)
	a.mu.Unlock()
	for _, o := range observers {
		o(snapshot)
	}
}

// Run restores the stored session, then blocks until ctx is done and
// shuts down within the grace period.
func (a *Agent) Run(ctx context.Context) error {
	if err := a.Restore(ctx); err != nil {
		return err
	}
	a.Wait(ctx)
	return nil
}

// Wait blocks until ctx is done, then stops the loops and flushes pending
// activity within the shutdown grace period.
func (a *Agent) Wait(ctx context.Context) {
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownGrace)
	defer cancel()
	a.Shutdown(shutdownCtx)
}

// Restore loads the stored session and starts the background loops. A
// valid token resumes polling, so tracking picks up again if the server
// still reports an open day.
func (a *Agent) Restore(ctx context.Context) error {
	a.mu.Lock()
	a.runCtx = context.WithoutCancel(ctx)
	a.running = true
	a.mu.Unlock()

	loggedIn, err := a.LoadSession(ctx)
	if err != nil {
		return err
	}
	if !loggedIn {
		a.logger.Info("no stored session, waiting for login")
		return nil
	}
	a.poller.Start(a.background())
	return nil
}

// LoadSession restores consent and any stored token without starting the
// loops. An unreadable or expired token is discarded.
func (a *Agent) LoadSession(ctx context.Context) (bool, error) {
	consent, err := a.store.Consent(ctx)
	if err != nil {
		return false, err
	}
	a.update(func(s *State) { s.Consent = consent })

	token, err := a.store.Token(ctx)
	if err != nil || token == "" {
		return false, err
	}
	claims, err := apiclient.DecodeClaims(token)
	if err != nil {
		a.logger.Warn("discarding unreadable stored token", "error", err)
		return false, a.store.SetToken(ctx, "")
	}
	if exp := claims.ExpiresAt; exp != nil && !exp.After(a.clock.Now()) {
		a.logger.Info("stored token expired, login required", "expired_at", exp.Time)
		return false, a.store.SetToken(ctx, "")
	}
	a.api.SetToken(token)
	a.update(func(s *State) {
		s.LoggedIn = true
		s.UserID = claims.UserID
		s.Email = claims.Email
	})
	a.logger.Info("session restored", "user_id", claims.UserID)
	return true, nil
}

func (a *Agent) isRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}

func (a *Agent) background() context.Context {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.runCtx
}

func (a *Agent) Login(ctx context.Context, email, password string) error {
	res, err := a.api.Login(ctx, email, password)
	if err != nil {
		return err
	}
	if err := a.store.SetToken(ctx, res.Token); err != nil {
		return err
	}
	a.api.SetToken(res.Token)
	a.update(func(s *State) {
		s.LoggedIn = true
		s.UserID = res.User.ID
		s.Email = res.User.Email
	})
	a.logger.Info("logged in", "user_id", res.User.ID)
	if a.isRunning() {
		a.poller.Start(a.background())
	}
	return nil
}

// Logout stops polling and tracking and forgets the token.
func (a *Agent) Logout(ctx context.Context) error {
	a.poller.Stop()
	a.tracker.Stop(ctx)
	a.api.SetToken("")
	err := a.store.SetToken(ctx, "")
	a.update(func(s *State) {
		consent := s.Consent
		*s = State{Consent: consent}
	})
	a.logger.Info("logged out")
	return err
}

func (a *Agent) userID() (string, error) {
	s := a.State()
	if !s.LoggedIn {
		return "", ErrNotLoggedIn
	}
	return s.UserID, nil
}

// StartDay starts the workday on the server and starts tracking without
// waiting for the next poll.
func (a *Agent) StartDay(ctx context.Context, req apiclient.DayRequest) (*apiclient.StartDayResult, error) {
	userID, err := a.userID()
	if err != nil {
		return nil, err
	}
	res, err := a.api.StartDay(ctx, userID, req)
	if err != nil {
		return nil, err
	}
	a.poller.Assume(res.AttendanceID)
	a.dayStarted(res.AttendanceID, res.StartTime, res.WorkLocation)
	return res, nil
}

// EndDay ends the workday on the server and stops tracking immediately.
func (a *Agent) EndDay(ctx context.Context, req apiclient.DayRequest) error {
	userID, err := a.userID()
	if err != nil {
		return err
	}
	// Flush before the server closes the day, or the last batch is rejected.
	a.tracker.Stop(ctx)
	if err := a.api.EndDay(ctx, userID, req); err != nil {
		if errors.Is(err, apierr.NoActiveDay) {
			a.poller.Assume("")
			a.dayEnded()
		} else {
			a.resumeIfActive()
		}
		return err
	}
	a.poller.Assume("")
	a.dayEnded()
	return nil
}

// Status asks the server directly, bypassing the poll cadence.
func (a *Agent) Status(ctx context.Context) (*apiclient.Status, error) {
	if _, err := a.userID(); err != nil {
		return nil, err
	}
	return a.api.AttendanceStatus(ctx)
}

// SetConsent records the user's decision. Tracking only runs with consent.
func (a *Agent) SetConsent(ctx context.Context, granted bool) error {
	if err := a.store.SetConsent(ctx, granted); err != nil {
		return err
	}
	a.update(func(s *State) { s.Consent = granted })
	if granted {
		a.resumeIfActive()
		return nil
	}
	a.tracker.Stop(ctx)
	a.update(func(s *State) { s.Tracking = false })
	return nil
}

// Shutdown cancels both loops and flushes pending activity within ctx.
func (a *Agent) Shutdown(ctx context.Context) {
	a.mu.Lock()
	a.running = false
	a.mu.Unlock()
	a.poller.Stop()
	a.tracker.Stop(ctx)
	a.update(func(s *State) { s.Tracking = false })
	a.logger.Info("agent stopped")
}

func (a *Agent) onDayEvent(e poller.Event) {
	switch e.Kind {
	case poller.DayStarted:
		a.dayStarted(e.AttendanceID, e.StartTime, e.WorkLocation)
	case poller.DayEnded:
		ctx, cancel := context.WithTimeout(a.background(), a.tracker.RequestTimeout())
		defer cancel()
		a.tracker.Stop(ctx)
		a.dayEnded()
	}
}

// sessionRejected logs the agent out after the server refused its token on
// the poll or ingest path. It runs on its own goroutine, since the caller
// may be one of the loops Logout stops.
func (a *Agent) sessionRejected(err error) {
	a.mu.Lock()
	loggedIn := a.state.LoggedIn
	a.state.LoggedIn = false
	a.mu.Unlock()
	if !loggedIn {
		return
	}
	a.logger.Warn("server rejected the session token, logging out", "error", err)
	go func() {
		ctx, cancel := context.WithTimeout(a.background(), a.cfg.ShutdownGrace)
		defer cancel()
		if err := a.Logout(ctx); err != nil {
			a.logger.Warn("clearing rejected token failed", "error", err)
		}
	}()
}

func (a *Agent) onSelfStop(attendanceID string) {
	a.update(func(s *State) {
		if s.AttendanceID == attendanceID {
			s.Tracking = false
		}
	})
}

func (a *Agent) dayStarted(attendanceID string, start time.Time, where string) {
	a.update(func(s *State) {
		s.DayActive = true
		s.AttendanceID = attendanceID
		s.DayStartedAt = start
		s.WorkLocation = where
	})
	a.resumeIfActive()
}

func (a *Agent) dayEnded() {
	a.update(func(s *State) {
		s.DayActive = false
		s.AttendanceID = ""
		s.DayStartedAt = time.Time{}
		s.WorkLocation = ""
		s.Tracking = false
	})
}

// resumeIfActive starts tracking when the agent is running, a day is
// active and consent is given.
func (a *Agent) resumeIfActive() {
	s := a.State()
	if !a.isRunning() || !s.DayActive || s.AttendanceID == "" {
		return
	}
	if !s.Consent {
		a.logger.Info("workday active but tracking consent not granted", "attendance_id", s.AttendanceID)
		return
	}
	a.tracker.Start(s.AttendanceID)
	a.update(func(s *State) { s.Tracking = a.tracker.Tracking() })
}

// authWatch reports token rejections from the background loops.
type authWatch struct {
	API
	rejected func(error)
}

func (w *authWatch) AttendanceStatus(ctx context.Context) (*apiclient.Status, error) {
	st, err := w.API.AttendanceStatus(ctx)
	w.check(err)
	return st, err
}

func (w *authWatch) IngestActivity(ctx context.Context, b apiclient.Batch) error {
	err := w.API.IngestActivity(ctx, b)
	w.check(err)
	return err
}

func (w *authWatch) check(err error) {
	if apierr.HasCode(err, apierr.CodeUnauthorized) || apierr.HasCode(err, apierr.CodeInvalidToken) {
		w.rejected(err)
	}
}
