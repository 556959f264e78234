package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"time"
	"uptune/internal/middleware"
	"uptune/internal/models"
	"uptune/internal/services"
	"uptune/internal/utils"

	"github.com/gin-gonic/gin"
)

type CommunityHandler struct {
	community *services.CommunityService
	llm       *services.LLMService
}

func NewCommunityHandler() *CommunityHandler {
	return &CommunityHandler{
		community: services.GetCommunityService(),
		llm:       services.GetLLMService(),
	}
}

type submitEntryRequest struct {
	SpotifyTrackID string `json:"spotifyTrackId"`
	SongTitle      string `json:"songTitle"`
	ArtistName     string `json:"artistName"`
	AlbumName      string `json:"albumName"`
	ImageURL       string `json:"imageUrl"`
	ContextReason  string `json:"contextReason"`
	SubmitterName  string `json:"submitterName"`
	UserID         *uint  `json:"userId"`
	GuestSessionID string `json:"guestSessionId"`
}

type castVoteRequest struct {
	VoteDirection  int    `json:"voteDirection"`
	UserID         *uint  `json:"userId"`
	GuestSessionID string `json:"guestSessionId"`
}

// voterFrom resolves the acting voter: explicit request identity first,
// then the server-assigned guest session cookie as a fallback
func voterFrom(c *gin.Context, userID *uint, guestSessionID string) models.VoterIdentity {
	if userID != nil {
		return models.AuthenticatedUser(*userID)
	}
	if guestSessionID != "" {
		return models.GuestSession(guestSessionID)
	}
	if token, ok := c.Get(middleware.GuestTokenKey); ok {
		if t, ok := token.(string); ok && t != "" {
			return models.GuestSession(t)
		}
	}
	return models.VoterIdentity{}
}

// ListLists returns the active community lists in display order
func (h *CommunityHandler) ListLists(c *gin.Context) {
	lists, err := h.community.GetLists()
	if err != nil {
		JSONError(c, http.StatusInternalServerError, "internal_error")
		return
	}
	c.JSON(http.StatusOK, lists)
}

// Detail returns a single list by slug
func (h *CommunityHandler) Detail(c *gin.Context) {
	list, err := h.community.GetListBySlug(c.Param("list"))
	if err != nil {
		if errors.Is(err, services.ErrListNotFound) {
			JSONError(c, http.StatusNotFound, "list_not_found")
			return
		}
		JSONError(c, http.StatusInternalServerError, "internal_error")
		return
	}
	c.JSON(http.StatusOK, list)
}

// Entries returns a list's entries in leaderboard order
func (h *CommunityHandler) Entries(c *gin.Context) {
	listID := utils.StringToInt(c.Param("list"))
	if listID <= 0 {
		JSONError(c, http.StatusBadRequest, "invalid_list_id")
		return
	}

	entries, err := h.community.GetEntries(uint(listID))
	if err != nil {
		JSONError(c, http.StatusInternalServerError, "internal_error")
		return
	}
	c.JSON(http.StatusOK, entries)
}

// Submit accepts a song submission, creating a new entry or merging the
// submission into a vote on the existing one
func (h *CommunityHandler) Submit(c *gin.Context) {
	listID := utils.StringToInt(c.Param("list"))
	if listID <= 0 {
		JSONError(c, http.StatusBadRequest, "invalid_list_id")
		return
	}

	var req submitEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		JSONError(c, http.StatusBadRequest, "invalid_json")
		return
	}

	result, err := h.community.SubmitEntry(services.SubmitEntryInput{
		ListID:         uint(listID),
		SpotifyTrackID: req.SpotifyTrackID,
		SongTitle:      req.SongTitle,
		ArtistName:     req.ArtistName,
		AlbumName:      req.AlbumName,
		ImageURL:       req.ImageURL,
		ContextReason:  req.ContextReason,
		SubmitterName:  req.SubmitterName,
		Voter:          voterFrom(c, req.UserID, req.GuestSessionID),
	})
	if err != nil {
		if ve, ok := asValidationError(err); ok {
			JSONValidationError(c, ve)
			return
		}
		if errors.Is(err, services.ErrListNotFound) {
			JSONError(c, http.StatusNotFound, "list_not_found")
			return
		}
		JSONError(c, http.StatusInternalServerError, "internal_error")
		return
	}

	if result.IsDuplicate {
		c.JSON(http.StatusOK, gin.H{
			"success":       true,
			"isDuplicate":   true,
			"message":       result.Message,
			"existingEntry": result.Entry,
		})
		return
	}
	c.JSON(http.StatusOK, result.Entry)
}

// Vote casts a +1/-1 vote on an entry
func (h *CommunityHandler) Vote(c *gin.Context) {
	entryID := utils.StringToInt(c.Param("entryId"))
	if entryID <= 0 {
		JSONError(c, http.StatusBadRequest, "invalid_entry_id")
		return
	}

	var req castVoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		JSONError(c, http.StatusBadRequest, "invalid_json")
		return
	}

	voter := voterFrom(c, req.UserID, req.GuestSessionID)
	err := h.community.CastVote(uint(entryID), voter, req.VoteDirection)
	if err != nil {
		if ve, ok := asValidationError(err); ok {
			JSONValidationError(c, ve)
			return
		}
		switch {
		case errors.Is(err, services.ErrAlreadyVoted):
			JSONError(c, http.StatusBadRequest, "already_voted")
		case errors.Is(err, services.ErrEntryNotFound):
			JSONError(c, http.StatusBadRequest, "entry_not_found")
		default:
			JSONError(c, http.StatusInternalServerError, "internal_error")
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// MyVote returns the caller's existing vote on an entry, or null.
// Clients use it to render vote-button state without attempting a vote.
func (h *CommunityHandler) MyVote(c *gin.Context) {
	entryID := utils.StringToInt(c.Param("entryId"))
	if entryID <= 0 {
		JSONError(c, http.StatusBadRequest, "invalid_entry_id")
		return
	}

	var userID *uint
	if id := utils.StringToInt(c.Query("userId")); id > 0 {
		u := uint(id)
		userID = &u
	}

	vote, err := h.community.GetVote(uint(entryID), voterFrom(c, userID, c.Query("guestSessionId")))
	if err != nil {
		if ve, ok := asValidationError(err); ok {
			JSONValidationError(c, ve)
			return
		}
		JSONError(c, http.StatusInternalServerError, "internal_error")
		return
	}
	c.JSON(http.StatusOK, vote)
}

// Analysis returns an LLM-written blurb about a list's character
func (h *CommunityHandler) Analysis(c *gin.Context) {
	list, err := h.community.GetListBySlug(c.Param("list"))
	if err != nil {
		if errors.Is(err, services.ErrListNotFound) {
			JSONError(c, http.StatusNotFound, "list_not_found")
			return
		}
		JSONError(c, http.StatusInternalServerError, "internal_error")
		return
	}

	if !h.llm.Enabled() {
		JSONError(c, http.StatusServiceUnavailable, "analysis_unavailable")
		return
	}

	cacheKey := fmt.Sprintf("community:analysis:%d", list.ID)
	if cached := utils.GetCache().Get(cacheKey); cached != nil {
		if analysis, ok := cached.(string); ok {
			c.JSON(http.StatusOK, gin.H{"success": true, "analysis": analysis})
			return
		}
	}

	entries, err := h.community.GetEntries(list.ID)
	if err != nil {
		JSONError(c, http.StatusInternalServerError, "internal_error")
		return
	}

	analysis, err := h.llm.AnalyzeList(list.Title, entries)
	if err != nil {
		JSONError(c, http.StatusBadGateway, "analysis_failed")
		return
	}

	utils.GetCache().Set(cacheKey, analysis, 10*time.Minute)
	c.JSON(http.StatusOK, gin.H{"success": true, "analysis": analysis})
}
