package router

import (
	"github.com/gin-gonic/gin"

	"captionflow/internal/handler"
)

func SetupRouter(r *gin.Engine, hdl *handler.Handler) {
	r.GET("/", hdl.Health)

	api := r.Group("/api")
	{
		api.POST("/subtitles", hdl.GenerateSubtitles)
		api.POST("/subtitles/tasks", hdl.StartSubtitleTask)
		api.GET("/subtitles/tasks", hdl.GetTaskHistory)
		api.GET("/subtitles/tasks/:taskId", hdl.GetSubtitleTask)
		api.DELETE("/subtitles/tasks/:taskId", hdl.DeleteTask)
		api.GET("/subtitles/tasks/:taskId/events", hdl.TaskEvents)
		api.GET("/file/*filepath", hdl.DownloadFile)
		api.HEAD("/file/*filepath", hdl.DownloadFile)
		// Cookie jar used by yt-dlp
		api.GET("/cookie/status", hdl.GetCookieStatus)
		api.POST("/cookie/upload", hdl.UploadCookie)
	}
}
