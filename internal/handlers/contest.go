package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lijuuu/ContestLivescoreService/internal/logging"
	"github.com/lijuuu/ContestLivescoreService/internal/model"
	"github.com/lijuuu/ContestLivescoreService/internal/service"
)

// ContestService is the part of the ingestion service the HTTP API uses.
type ContestService interface {
	Submit(ctx context.Context, sub model.Submission) (model.Snapshot, error)
	Contests() []service.ContestSummary
	Stations(contest string) ([]service.StationSummary, error)
	Station(contest, callsign string) (service.Classification, error)
	Leaderboard(contest, callsign, filterType, filterValue string) (service.LeaderboardView, error)
}

type ContestHandler struct {
	svc ContestService
}

func NewContestHandler(svc ContestService) *ContestHandler {
	return &ContestHandler{svc: svc}
}

type submitResponse struct {
	Contest   string    `json:"contest"`
	Callsign  string    `json:"callsign"`
	Timestamp time.Time `json:"timestamp"`
}

// Submit accepts one score report.
func (h *ContestHandler) Submit(c *gin.Context) {
	requestID := c.GetString(requestIDKey)

	var sub model.Submission
	if err := c.ShouldBindJSON(&sub); err != nil {
		logging.Warn().Str("request_id", requestID).Err(err).Msg("invalid submission body")
		WriteJSONError(c, "Invalid request body", http.StatusBadRequest)
		return
	}

	snap, err := h.svc.Submit(c.Request.Context(), sub)
	if err != nil {
		logging.Warn().
			Str("request_id", requestID).
			Str("contest", sub.Contest).
			Str("callsign", sub.Callsign).
			Err(err).
			Msg("submission rejected")
		WriteJSONError(c, err.Error(), statusFor(err))
		return
	}

	WriteJSONResponse(c, submitResponse{
		Contest:   snap.Key.Contest,
		Callsign:  snap.Key.Callsign,
		Timestamp: snap.At,
	}, http.StatusAccepted)
}

func (h *ContestHandler) ListContests(c *gin.Context) {
	WriteJSONResponse(c, h.svc.Contests(), http.StatusOK)
}

func (h *ContestHandler) ListStations(c *gin.Context) {
	stations, err := h.svc.Stations(c.Param("contest"))
	if err != nil {
		WriteJSONError(c, err.Error(), statusFor(err))
		return
	}
	WriteJSONResponse(c, stations, http.StatusOK)
}

// GetStation returns the classification the filter selector offers for a station.
func (h *ContestHandler) GetStation(c *gin.Context) {
	station, err := h.svc.Station(c.Param("contest"), c.Param("callsign"))
	if err != nil {
		WriteJSONError(c, err.Error(), statusFor(err))
		return
	}
	WriteJSONResponse(c, station, http.StatusOK)
}

// GetLeaderboard renders a one-shot filtered leaderboard.
func (h *ContestHandler) GetLeaderboard(c *gin.Context) {
	view, err := h.svc.Leaderboard(
		c.Param("contest"),
		c.Query("callsign"),
		c.Query("filter_type"),
		c.Query("filter_value"),
	)
	if err != nil {
		WriteJSONError(c, err.Error(), statusFor(err))
		return
	}
	WriteJSONResponse(c, view, http.StatusOK)
}
