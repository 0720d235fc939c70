package handler

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"captionflow/internal/appcore"
	"captionflow/internal/response"
	"captionflow/internal/types"
	"captionflow/log"
	apperrors "captionflow/pkg/errors"
)

// TaskEvents streams stage transitions of one task over a websocket. The
// socket closes after the terminal event.
func (h *Handler) TaskEvents(c *gin.Context) {
	taskId := strings.TrimSpace(c.Param("taskId"))
	if taskId == "" {
		response.ErrorResponse(c, apperrors.New(apperrors.CodeInvalidParams, "taskId不能为空 taskId is required"))
		return
	}

	hub := h.Service.Events
	_, known := hub.Last(taskId)
	var finished *appcore.Event
	if h.Service.Tasks != nil {
		task, err := h.Service.Tasks.Get(c.Request.Context(), taskId)
		switch {
		case err != nil && !known:
			response.ErrorResponse(c, err)
			return
		case err == nil && !known && isTerminalTask(task):
			e := taskEvent(task)
			finished = &e
		}
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.GetLogger().Warn("TaskEvents upgrade failed", zap.String("task_id", taskId), zap.Error(err))
		return
	}
	defer conn.Close()

	if finished != nil {
		_ = h.writeEvent(conn, *finished)
		h.closeSocket(conn)
		return
	}

	events, cancel := hub.Subscribe(taskId)
	defer cancel()

	// Reads only detect the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case e, ok := <-events:
			if !ok {
				h.closeSocket(conn)
				return
			}
			if err := h.writeEvent(conn, e); err != nil {
				log.GetLogger().Debug("TaskEvents write failed", zap.String("task_id", taskId), zap.Error(err))
				return
			}
			if e.Stage.IsTerminal() {
				h.closeSocket(conn)
				return
			}
		}
	}
}

func (h *Handler) writeEvent(conn *websocket.Conn, e appcore.Event) error {
	if err := conn.SetWriteDeadline(time.Now().Add(h.writeTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(e)
}

func (h *Handler) closeSocket(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(h.writeTimeout))
}

func isTerminalTask(task *types.SubtitleTask) bool {
	return task.Status == types.SubtitleTaskStatusSuccess || task.Status == types.SubtitleTaskStatusFailed
}

// taskEvent rebuilds the terminal event of a task the hub no longer remembers.
func taskEvent(task *types.SubtitleTask) appcore.Event {
	e := appcore.Event{
		RunID:      task.TaskId,
		Stage:      appcore.StageDone,
		StageName:  appcore.StageDone.String(),
		Message:    task.StatusMsg,
		OccurredAt: time.Unix(task.UpdateTime, 0).UTC(),
	}
	if task.Status == types.SubtitleTaskStatusFailed {
		e.Stage = appcore.StageFailed
		e.StageName = appcore.StageFailed.String()
		e.From = task.Stage
		e.ErrorText = task.FailReason
	}
	return e
}
