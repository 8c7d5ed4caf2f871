package relay

import (
	"github.com/labstack/echo/v4"
)

// SetupRoutes registers the relay surface with the Echo instance
func (h *RelayHandler) SetupRoutes(e *echo.Echo) {
	e.GET("/health", h.HandleHealth)
	e.POST("/analyze_frame", h.HandleAnalyzeFrame)
	e.POST("/analyze_video", h.HandleAnalyzeVideo)
	e.POST("/annotate_video", h.HandleAnnotateVideo)
	e.POST("/annotate_video_async", h.HandleAnnotateVideoAsync)
	e.GET("/annotate_progress/:jobId", h.HandleAnnotateProgress)
	e.GET("/annotate_result/:jobId", h.HandleAnnotateResult)
}
