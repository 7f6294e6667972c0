// Package probe reads idle time and the focused application from the
// desktop session by shelling out to the platform's tools.
package probe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"time"
)

var ErrUnsupported = errors.New("probe: platform not supported")

type runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(stderr.String()))
	}
	return out, nil
}

// System probes the current desktop session. Linux needs xprintidle and
// xdotool on PATH; macOS uses ioreg and osascript.
type System struct {
	goos string
	run  runner
}

func New() *System {
	return &System{goos: runtime.GOOS, run: execRunner}
}

func (s *System) IdleTime(ctx context.Context) (time.Duration, error) {
	switch s.goos {
	case "linux":
		out, err := s.run(ctx, "xprintidle")
		if err != nil {
			return 0, err
		}
		return parseXPrintIdle(out)
	case "darwin":
		out, err := s.run(ctx, "ioreg", "-c", "IOHIDSystem", "-d", "4")
		if err != nil {
			return 0, err
		}
		return parseIORegIdle(out)
	default:
		return 0, ErrUnsupported
	}
}

func (s *System) ActiveApp(ctx context.Context) (string, error) {
	var (
		out []byte
		err error
	)
	switch s.goos {
	case "linux":
		out, err = s.run(ctx, "xdotool", "getactivewindow", "getwindowname")
	case "darwin":
		out, err = s.run(ctx, "osascript", "-e",
			`tell application "System Events" to get name of first application process whose frontmost is true`)
	default:
		return "", ErrUnsupported
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// parseXPrintIdle reads milliseconds.
func parseXPrintIdle(out []byte) (time.Duration, error) {
	ms, err := strconv.ParseInt(strings.TrimSpace(string(out)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing xprintidle output: %w", err)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

var hidIdle = regexp.MustCompile(`"HIDIdleTime"\s*=\s*(\d+)`)

// parseIORegIdle reads HIDIdleTime in nanoseconds.
func parseIORegIdle(out []byte) (time.Duration, error) {
	m := hidIdle.FindSubmatch(out)
	if m == nil {
		return 0, errors.New("HIDIdleTime not found in ioreg output")
	}
	ns, err := strconv.ParseInt(string(m[1]), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing HIDIdleTime: %w", err)
	}
	return time.Duration(ns), nil
}

// Static reports a fixed idle time. It stands in for System on headless
// hosts.
type Static struct {
	Idle time.Duration
	App  string
}

func (s Static) IdleTime(context.Context) (time.Duration, error) { return s.Idle, nil }

func (s Static) ActiveApp(context.Context) (string, error) { return s.App, nil }
