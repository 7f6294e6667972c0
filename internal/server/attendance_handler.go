package server

import (
	"log/slog"
	"net/http"
	"time"

	"workpulse/internal/apierr"
	"workpulse/internal/attendance"
	"workpulse/internal/db/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type attendanceHandler struct {
	authority *attendance.Authority
	logger    *slog.Logger
}

// dayBody is the start-day and end-day body. An empty body is allowed.
type dayBody struct {
	Latitude         *float64 `json:"latitude"`
	Longitude        *float64 `json:"longitude"`
	Address          string   `json:"address"`
	Accuracy         *float64 `json:"accuracy"`
	WorkLocationType string   `json:"workLocationType"`
}

func (b dayBody) location() models.Location {
	return models.Location{Latitude: b.Latitude, Longitude: b.Longitude, Address: b.Address, Accuracy: b.Accuracy}
}

func bindOptionalJSON(c *gin.Context, v any) error {
	if c.Request.ContentLength == 0 {
		return nil
	}
	if err := c.ShouldBindJSON(v); err != nil {
		return apierr.Validation("invalid request body")
	}
	return nil
}

type startDayResponse struct {
	Success      bool      `json:"success"`
	AttendanceID uuid.UUID `json:"attendanceId"`
	StartTime    time.Time `json:"startTime"`
	WorkLocation string    `json:"workLocation"`
}

func (h *attendanceHandler) StartDay(c *gin.Context) {
	var body dayBody
	if err := bindOptionalJSON(c, &body); err != nil {
		respondError(c, err)
		return
	}
	rec, err := h.authority.StartDay(c.Request.Context(), pathUser(c, "userId"), attendance.StartRequest{
		Location:         body.location(),
		WorkLocationType: body.WorkLocationType,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, startDayResponse{
		Success:      true,
		AttendanceID: rec.ID,
		StartTime:    rec.StartTime,
		WorkLocation: rec.WorkLocationType,
	})
}

func (h *attendanceHandler) EndDay(c *gin.Context) {
	var body dayBody
	if err := bindOptionalJSON(c, &body); err != nil {
		respondError(c, err)
		return
	}
	if _, err := h.authority.EndDay(c.Request.Context(), pathUser(c, "userId"), body.location()); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *attendanceHandler) Status(c *gin.Context) {
	status, err := h.authority.Status(c.Request.Context(), callerID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

type recordView struct {
	ID               uuid.UUID       `json:"id"`
	Date             string          `json:"date"`
	StartTime        time.Time       `json:"startTime"`
	EndTime          *time.Time      `json:"endTime"`
	WorkLocationType string          `json:"workLocationType"`
	StartLocation    models.Location `json:"startLocation"`
	EndLocation      models.Location `json:"endLocation"`
	AutoClosed       bool            `json:"autoClosed"`
}

// Today lists the user's records for the current work date.
func (h *attendanceHandler) Today(c *gin.Context) {
	records, err := h.authority.History(c.Request.Context(), pathUser(c, "userId"))
	if err != nil {
		respondError(c, err)
		return
	}
	views := make([]recordView, 0, len(records))
	for _, r := range records {
		views = append(views, recordView{
			ID:               r.ID,
			Date:             r.WorkDate,
			StartTime:        r.StartTime,
			EndTime:          r.EndTime,
			WorkLocationType: r.WorkLocationType,
			StartLocation:    r.StartLocation,
			EndLocation:      r.EndLocation,
			AutoClosed:       r.AutoClosed,
		})
	}
	c.JSON(http.StatusOK, gin.H{"records": views})
}
