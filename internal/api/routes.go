package api

import "github.com/gin-gonic/gin"

// RegisterRoutes mounts the consumer API under /api/v1.
func RegisterRoutes(r *gin.Engine, h *Handler, debug bool) {
	v1 := r.Group("/api/v1")
	{
		v1.GET("/usage", h.GetUsage)
		v1.POST("/usage/refresh", h.PostRefresh)
		v1.GET("/usage/history", h.GetHistory)

		v1.GET("/permission", h.GetPermission)
		v1.POST("/permission/request", h.PostPermissionRequest)

		goals := v1.Group("/goals")
		{
			goals.GET("", h.ListGoals)
			goals.POST("", h.CreateGoal)
			goals.GET("/:id", h.GetGoal)
			goals.POST("/:id/finalize", h.FinalizeGoal)
		}
		v1.GET("/profile", h.GetProfile)

		if debug {
			v1.GET("/debug", h.GetDebug)
		}
	}
}
