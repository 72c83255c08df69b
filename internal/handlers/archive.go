package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lijuuu/ContestLivescoreService/internal/repo"
)

type ArchiveHandler struct {
	archive repo.LeaderboardReader
}

func NewArchiveHandler(archive repo.LeaderboardReader) *ArchiveHandler {
	return &ArchiveHandler{archive: archive}
}

// GetArchivedLeaderboard returns the last stored leaderboard of a contest, also for
// contests this process has not seen since it started.
func (h *ArchiveHandler) GetArchivedLeaderboard(c *gin.Context) {
	record, err := h.archive.GetLeaderboard(c.Request.Context(), c.Param("contest"))
	if errors.Is(err, repo.ErrNotFound) {
		WriteJSONError(c, "leaderboard not archived", http.StatusNotFound)
		return
	}
	if err != nil {
		WriteJSONError(c, "archive unavailable", http.StatusServiceUnavailable)
		return
	}
	WriteJSONResponse(c, record, http.StatusOK)
}
