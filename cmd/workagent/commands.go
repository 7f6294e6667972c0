package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"workpulse/internal/agent"
	"workpulse/internal/apiclient"

	"github.com/spf13/cobra"
)

func newRunCmd(a *app) *cobra.Command {
	var interactive bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the agent until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a.agent.Subscribe(func(s agent.State) {
				a.logger.Debug("agent state", "logged_in", s.LoggedIn, "day_active", s.DayActive,
					"tracking", s.Tracking, "consent", s.Consent)
			})

			if !interactive {
				return a.agent.Run(ctx)
			}
			if err := a.agent.Restore(ctx); err != nil {
				return err
			}
			go func() {
				runInteractive(ctx, a.agent, os.Stdin, cmd.OutOrStdout())
				stop()
			}()
			a.agent.Wait(ctx)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "read control commands from stdin")
	return cmd
}

func newLoginCmd(a *app) *cobra.Command {
	var email, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and store the session token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				password = os.Getenv("WORKAGENT_PASSWORD")
			}
			if password == "" {
				return errors.New("--password or WORKAGENT_PASSWORD is required")
			}
			if err := a.agent.Login(cmd.Context(), email, password); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s\n", a.agent.State().Email)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Account email")
	cmd.Flags().StringVar(&password, "password", "", "Account password")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.agent.Logout(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
			return nil
		},
	}
}

type dayFlags struct {
	locationType string
	address      string
	lat, lng     float64
	accuracy     float64
}

func (f *dayFlags) register(cmd *cobra.Command, withType bool) {
	if withType {
		cmd.Flags().StringVar(&f.locationType, "location-type", "", "office, remote or field")
	}
	cmd.Flags().StringVar(&f.address, "address", "", "Address of the work location")
	cmd.Flags().Float64Var(&f.lat, "lat", 0, "Latitude")
	cmd.Flags().Float64Var(&f.lng, "lng", 0, "Longitude")
	cmd.Flags().Float64Var(&f.accuracy, "accuracy", 0, "Location accuracy in meters")
}

func (f *dayFlags) request(cmd *cobra.Command) apiclient.DayRequest {
	req := apiclient.DayRequest{Address: f.address, WorkLocationType: f.locationType}
	if cmd.Flags().Changed("lat") {
		req.Latitude = &f.lat
	}
	if cmd.Flags().Changed("lng") {
		req.Longitude = &f.lng
	}
	if cmd.Flags().Changed("accuracy") {
		req.Accuracy = &f.accuracy
	}
	return req
}

func newStartDayCmd(a *app) *cobra.Command {
	var flags dayFlags

	cmd := &cobra.Command{
		Use:   "start-day",
		Short: "Start today's workday",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.session(cmd.Context()); err != nil {
				return err
			}
			res, err := a.agent.StartDay(cmd.Context(), flags.request(cmd))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Workday started at %s (%s), attendance %s\n",
				res.StartTime.Local().Format("15:04"), res.WorkLocation, res.AttendanceID)
			return nil
		},
	}
	flags.register(cmd, true)
	return cmd
}

func newEndDayCmd(a *app) *cobra.Command {
	var flags dayFlags

	cmd := &cobra.Command{
		Use:   "end-day",
		Short: "End today's workday",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.session(cmd.Context()); err != nil {
				return err
			}
			if err := a.agent.EndDay(cmd.Context(), flags.request(cmd)); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Workday ended")
			return nil
		},
	}
	flags.register(cmd, false)
	return cmd
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the server's view of today's workday",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.session(cmd.Context()); err != nil {
				return err
			}
			st, err := a.agent.Status(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), formatStatus(st))
			return nil
		},
	}
}

func formatStatus(st *apiclient.Status) string {
	if !st.DayStarted {
		return "Workday not started"
	}
	started := "unknown"
	if st.StartTime != nil {
		started = st.StartTime.Local().Format("15:04")
	}
	return fmt.Sprintf("Workday active since %s (%s), attendance %s", started, st.WorkLocation, st.AttendanceID)
}

func newConsentCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:       "consent grant|revoke",
		Short:     "Grant or revoke activity tracking consent",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"grant", "revoke"},
		RunE: func(cmd *cobra.Command, args []string) error {
			granted := args[0] == "grant"
			if err := a.agent.SetConsent(cmd.Context(), granted); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Tracking consent %sd\n", args[0])
			return nil
		},
	}
}

func newWhoamiCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the logged-in user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.session(cmd.Context()); err != nil {
				return err
			}
			s := a.agent.State()
			consent := "not granted"
			if s.Consent {
				consent = "granted"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s), tracking consent %s\n", s.Email, s.UserID, consent)
			return nil
		},
	}
}

func newSummaryCmd(a *app) *cobra.Command {
	var from, to string

	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Show activity totals for a time range",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.session(cmd.Context()); err != nil {
				return err
			}
			var start, end time.Time
			var err error
			if from != "" {
				if start, err = time.Parse(time.RFC3339, from); err != nil {
					return fmt.Errorf("--from: %w", err)
				}
			}
			if to != "" {
				if end, err = time.Parse(time.RFC3339, to); err != nil {
					return fmt.Errorf("--to: %w", err)
				}
			}
			sum, err := a.client.ActivitySummary(cmd.Context(), a.agent.State().UserID, start, end)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Samples:        %d\n", sum.TotalLogs)
			fmt.Fprintf(out, "Keystrokes:     %d\n", sum.TotalKeystrokes)
			fmt.Fprintf(out, "Mouse events:   %d\n", sum.TotalMouseEvents)
			fmt.Fprintf(out, "Idle:           %s\n", time.Duration(sum.TotalIdleSeconds)*time.Second)
			fmt.Fprintf(out, "Productivity:   %.1f\n", sum.AverageProductivity)
			fmt.Fprintf(out, "Applications:   %s\n", strings.Join(sum.Applications, ", "))
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "Range start (RFC 3339), default start of today")
	cmd.Flags().StringVar(&to, "to", "", "Range end (RFC 3339), default end of today")
	return cmd
}
