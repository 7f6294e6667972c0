// Package notify announces workday transitions to people watching a channel.
// Delivery is best-effort: failures are logged and never surface to callers.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"workpulse/internal/db/models"

	"github.com/bwmarrin/discordgo"
)

type Notifier interface {
	DayStarted(ctx context.Context, user *models.User, rec *models.Attendance)
	DayEnded(ctx context.Context, user *models.User, rec *models.Attendance, end time.Time)
	// Close waits for in-flight deliveries.
	Close() error
}

// Nop discards every notification.
type Nop struct{}

func (Nop) DayStarted(context.Context, *models.User, *models.Attendance)            {}
func (Nop) DayEnded(context.Context, *models.User, *models.Attendance, time.Time) {}
func (Nop) Close() error                                                          { return nil }

// Discord posts notices to a single channel through the bot REST API.
type Discord struct {
	session   *discordgo.Session
	send      func(channelID, content string) error
	channelID string
	loc       *time.Location
	logger    *slog.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewDiscord creates a notifier for channelID. Times are rendered in loc.
func NewDiscord(token, channelID string, loc *time.Location, logger *slog.Logger) (*Discord, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("error creating Discord session: %w", err)
	}
	d := newDiscord(func(ch, content string) error {
		_, err := session.ChannelMessageSend(ch, content)
		return err
	}, channelID, loc, logger)
	d.session = session
	return d, nil
}

func newDiscord(send func(channelID, content string) error, channelID string, loc *time.Location, logger *slog.Logger) *Discord {
	if logger == nil {
		logger = slog.Default()
	}
	if loc == nil {
		loc = time.Local
	}
	return &Discord{send: send, channelID: channelID, loc: loc, logger: logger}
}

func (d *Discord) DayStarted(_ context.Context, user *models.User, rec *models.Attendance) {
	d.post(startedMessage(user, rec, d.loc))
}

func (d *Discord) DayEnded(_ context.Context, user *models.User, rec *models.Attendance, end time.Time) {
	d.post(endedMessage(user, rec, end, d.loc))
}

func (d *Discord) post(msg string) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()
		if err := d.send(d.channelID, msg); err != nil {
			d.logger.Warn("discord notification failed", "channel", d.channelID, "error", err)
		}
	}()
}

func (d *Discord) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.wg.Wait()
	if d.session != nil {
		return d.session.Close()
	}
	return nil
}

func displayName(user *models.User) string {
	if user.Name != "" {
		return user.Name
	}
	return user.Email
}

func startedMessage(user *models.User, rec *models.Attendance, loc *time.Location) string {
	msg := fmt.Sprintf("🟢 %s started the workday at %s (%s)",
		displayName(user), formatTime(rec.StartTime, loc), rec.WorkLocationType)
	if rec.StartLocation.Address != "" {
		msg += " from " + rec.StartLocation.Address
	}
	return msg
}

func endedMessage(user *models.User, rec *models.Attendance, end time.Time, loc *time.Location) string {
	return fmt.Sprintf("🔴 %s ended the workday at %s after %s",
		displayName(user), formatTime(end, loc), formatDuration(end.Sub(rec.StartTime)))
}

// formatDuration formats a duration in a human-readable way
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}

func formatTime(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("2006-01-02 15:04:05")
}
