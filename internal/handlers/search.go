package handlers

import (
	"net/http"
	"strings"
	"uptune/internal/services"
	"uptune/internal/utils"

	"github.com/gin-gonic/gin"
)

type SearchHandler struct {
	spotify *services.SpotifyService
}

func NewSearchHandler() *SearchHandler {
	return &SearchHandler{spotify: services.GetSpotifyService()}
}

// Search proxies a track search to Spotify and returns the flattened
// metadata submissions are built from
func (h *SearchHandler) Search(c *gin.Context) {
	query := strings.TrimSpace(c.Query("q"))
	if query == "" {
		JSONError(c, http.StatusBadRequest, "query_required")
		return
	}

	limit := utils.StringToInt(c.DefaultQuery("limit", "10"))
	tracks, err := h.spotify.SearchTracks(query, limit)
	if err != nil {
		JSONError(c, http.StatusBadGateway, "search_failed")
		return
	}

	c.JSON(http.StatusOK, gin.H{"tracks": tracks})
}
