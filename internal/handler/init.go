package handler

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"captionflow/internal/service"
)

type Handler struct {
	Service *service.Service
	// FileRoot is where the local subtitle store writes. Empty means the
	// default output directory.
	FileRoot string
	// CookiesFile is the yt-dlp cookie jar used for acquisition.
	CookiesFile string

	upgrader     websocket.Upgrader
	writeTimeout time.Duration
}

func NewHandler(svc *service.Service, fileRoot, cookiesFile string) *Handler {
	return &Handler{
		Service:     svc,
		FileRoot:    fileRoot,
		CookiesFile: cookiesFile,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		writeTimeout: 10 * time.Second,
	}
}
