package models

import (
	"time"

	"github.com/google/uuid"
)

// WorkDateLayout is the calendar-day key stored in attendance_records.work_date.
const WorkDateLayout = "2006-01-02"

// Location is where a start-day or end-day call was made from.
type Location struct {
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	Address   string   `json:"address,omitempty"`
	Accuracy  *float64 `json:"accuracy,omitempty"`
}

// Attendance is one workday record. It is open while EndTime is nil.
type Attendance struct {
	ID               uuid.UUID  `db:"id"`
	UserID           uuid.UUID  `db:"user_id"`
	WorkDate         string     `db:"work_date"`
	StartTime        time.Time  `db:"start_time"`
	EndTime          *time.Time `db:"end_time"`
	WorkLocationType string     `db:"work_location_type"`
	StartLocation    Location
	EndLocation      Location
	AutoClosed       bool      `db:"auto_closed"`
	CreatedAt        time.Time `db:"created_at"`
}

func (a *Attendance) Open() bool { return a.EndTime == nil }

// WorkDate returns the calendar-day key of t in loc.
func WorkDate(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(WorkDateLayout)
}

// EndOfWorkDate returns the last instant of the calendar day workDate in loc.
func EndOfWorkDate(workDate string, loc *time.Location) (time.Time, error) {
	day, err := time.ParseInLocation(WorkDateLayout, workDate, loc)
	if err != nil {
		return time.Time{}, err
	}
	return day.AddDate(0, 0, 1).Add(-time.Second), nil
}
