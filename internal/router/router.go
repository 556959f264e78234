package router

import (
	"uptune/internal/handlers"

	"github.com/gin-gonic/gin"
)

func RegisterRoutes(r *gin.Engine) {
	// Handlers
	communityHandler := handlers.NewCommunityHandler()
	searchHandler := handlers.NewSearchHandler()
	contactHandler := handlers.NewContactHandler()

	api := r.Group("/api")
	{
		// Community lists and their leaderboards
		api.GET("/community-lists", communityHandler.ListLists)
		api.GET("/community-lists/:list", communityHandler.Detail)
		api.GET("/community-lists/:list/entries", communityHandler.Entries)
		api.POST("/community-lists/:list/entries", communityHandler.Submit)
		api.GET("/community-lists/:list/analysis", communityHandler.Analysis)

		// Voting on individual entries
		api.POST("/community-lists/entries/:entryId/vote", communityHandler.Vote)
		api.GET("/community-lists/entries/:entryId/vote", communityHandler.MyVote)

		// Track metadata provider and contact form
		api.GET("/music/search", searchHandler.Search)
		api.POST("/contact", contactHandler.Submit)
	}
}
