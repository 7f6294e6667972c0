package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"workpulse/internal/agent"
	"workpulse/internal/apiclient"
)

// controller is the part of the agent driven from the interactive prompt.
type controller interface {
	Login(ctx context.Context, email, password string) error
	Logout(ctx context.Context) error
	StartDay(ctx context.Context, req apiclient.DayRequest) (*apiclient.StartDayResult, error)
	EndDay(ctx context.Context, req apiclient.DayRequest) error
	Status(ctx context.Context) (*apiclient.Status, error)
	SetConsent(ctx context.Context, granted bool) error
	State() agent.State
}

const interactiveHelp = `commands:
  login <email> <password>
  logout
  start-day [office|remote|field]
  end-day
  status
  consent grant|revoke
  whoami
  quit`

// runInteractive reads one command per line until quit, EOF or ctx is done.
func runInteractive(ctx context.Context, c controller, in io.Reader, out io.Writer) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		quit, err := dispatch(ctx, c, scanner.Text(), out)
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
		}
		if quit {
			return
		}
	}
}

func dispatch(ctx context.Context, c controller, line string, out io.Writer) (quit bool, err error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "quit", "exit":
		return true, nil
	case "help":
		fmt.Fprintln(out, interactiveHelp)
	case "login":
		if len(args) != 2 {
			return false, fmt.Errorf("usage: login <email> <password>")
		}
		if err := c.Login(ctx, args[0], args[1]); err != nil {
			return false, err
		}
		fmt.Fprintf(out, "logged in as %s\n", c.State().Email)
	case "logout":
		if err := c.Logout(ctx); err != nil {
			return false, err
		}
		fmt.Fprintln(out, "logged out")
	case "start-day":
		var req apiclient.DayRequest
		if len(args) > 0 {
			req.WorkLocationType = args[0]
		}
		res, err := c.StartDay(ctx, req)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(out, "workday started, attendance %s\n", res.AttendanceID)
	case "end-day":
		if err := c.EndDay(ctx, apiclient.DayRequest{}); err != nil {
			return false, err
		}
		fmt.Fprintln(out, "workday ended")
	case "status":
		st, err := c.Status(ctx)
		if err != nil {
			return false, err
		}
		fmt.Fprintln(out, formatStatus(st))
		fmt.Fprintf(out, "tracking: %t\n", c.State().Tracking)
	case "consent":
		if len(args) != 1 || (args[0] != "grant" && args[0] != "revoke") {
			return false, fmt.Errorf("usage: consent grant|revoke")
		}
		if err := c.SetConsent(ctx, args[0] == "grant"); err != nil {
			return false, err
		}
		fmt.Fprintf(out, "consent %sd\n", args[0])
	case "whoami":
		s := c.State()
		if !s.LoggedIn {
			fmt.Fprintln(out, "not logged in")
			break
		}
		fmt.Fprintf(out, "%s (%s)\n", s.Email, s.UserID)
	default:
		return false, fmt.Errorf("unknown command %q, try help", cmd)
	}
	return false, nil
}
