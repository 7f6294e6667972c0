package server

import (
	"log/slog"
	"net/http"
	"time"

	"workpulse/internal/activity"
	"workpulse/internal/apierr"
	"workpulse/internal/attendance"
	"workpulse/internal/db/models"

	"github.com/gin-gonic/gin"
)

type activityHandler struct {
	ingestor  *activity.Ingestor
	authority *attendance.Authority
	logger    *slog.Logger
}

func (h *activityHandler) Ingest(c *gin.Context) {
	var batch activity.Batch
	if err := c.ShouldBindJSON(&batch); err != nil {
		respondError(c, apierr.Validation("invalid activity body"))
		return
	}
	if _, err := h.ingestor.Ingest(c.Request.Context(), callerID(c), batch); err != nil {
		if apierr.HasCode(err, apierr.CodeDayNotActive) {
			h.logger.Info("activity rejected: day not active", "user_id", callerID(c))
		}
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Summary aggregates over ?from=&to= (RFC 3339). Both default to the
// current work date.
func (h *activityHandler) Summary(c *gin.Context) {
	loc := h.authority.Location()
	day, _ := time.ParseInLocation(models.WorkDateLayout, h.authority.Today(), loc)
	from, to := day, day.AddDate(0, 0, 1)

	if v := c.Query("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			respondError(c, apierr.Validation("from must be an RFC 3339 time"))
			return
		}
		from = t
	}
	if v := c.Query("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			respondError(c, apierr.Validation("to must be an RFC 3339 time"))
			return
		}
		to = t
	}

	summary, err := h.ingestor.Summary(c.Request.Context(), pathUser(c, "userId"), from, to)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"summary": summary})
}
