// Package server exposes the attendance authority and activity ingestion
// over JSON/HTTP.
package server

import (
	"log/slog"
	"time"

	"workpulse/internal/activity"
	"workpulse/internal/attendance"
	"workpulse/internal/auth"
	"workpulse/internal/db"

	"github.com/gin-gonic/gin"
)

type Deps struct {
	Store      db.Store
	Tokens     *auth.Tokens
	Attendance *attendance.Authority
	Activity   *activity.Ingestor
	Logger     *slog.Logger

	RequestTimeout time.Duration
	LoginRate      float64
	LoginBurst     int
}

func NewRouter(d Deps) *gin.Engine {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	r := gin.New()
	r.Use(gin.Recovery(), requestLog(d.Logger), requestTimeout(d.RequestTimeout))

	authH := &authHandler{store: d.Store, tokens: d.Tokens, logger: d.Logger}
	attH := &attendanceHandler{authority: d.Attendance, logger: d.Logger}
	actH := &activityHandler{ingestor: d.Activity, authority: d.Attendance, logger: d.Logger}
	limiter := newIPLimiter(d.LoginRate, d.LoginBurst)

	r.GET("/healthz", healthHandler(d.Store))

	api := r.Group("/api")
	{
		api.POST("/auth/login", limiter.middleware(), authH.Login)
	}

	att := api.Group("/attendance", AuthRequired(d.Tokens))
	{
		att.GET("/status", attH.Status)
		att.POST("/start-day/:userId", requireSelfOrAdmin("userId"), attH.StartDay)
		att.POST("/end-day/:userId", requireSelfOrAdmin("userId"), attH.EndDay)
		att.GET("/today/:userId", requireSelfOrAdmin("userId"), attH.Today)
	}

	agent := api.Group("/agent/activity", AuthRequired(d.Tokens))
	{
		agent.POST("/ingest", actH.Ingest)
		agent.GET("/summary/:userId", requireSelfOrAdmin("userId"), actH.Summary)
	}

	return r
}
