package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"captionflow/internal/dto"
	"captionflow/internal/response"
	"captionflow/log"
	apperrors "captionflow/pkg/errors"
)

// Health answers liveness probes.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// GenerateSubtitles runs the pipeline within the request.
func (h *Handler) GenerateSubtitles(c *gin.Context) {
	var req dto.GenerateSubtitlesReq
	if err := c.ShouldBindJSON(&req); err != nil {
		log.GetLogger().Error("GenerateSubtitles ShouldBindJSON err", zap.Error(err))
		response.ErrorResponse(c, apperrors.Wrap(apperrors.CodeInvalidParams, "参数错误 Invalid parameters", err))
		return
	}
	log.GetLogger().Info("GenerateSubtitles received request", zap.Any("req", req))

	data, err := h.Service.GenerateSubtitles(c.Request.Context(), req)
	if err != nil {
		response.ErrorResponse(c, err)
		return
	}
	response.Success(c, data)
}

func (h *Handler) StartSubtitleTask(c *gin.Context) {
	var req dto.GenerateSubtitlesReq
	if err := c.ShouldBindJSON(&req); err != nil {
		log.GetLogger().Error("StartSubtitleTask ShouldBindJSON err", zap.Error(err))
		response.ErrorResponse(c, apperrors.Wrap(apperrors.CodeInvalidParams, "参数错误 Invalid parameters", err))
		return
	}
	log.GetLogger().Info("StartSubtitleTask received request", zap.Any("req", req))

	data, err := h.Service.StartSubtitleTask(c.Request.Context(), req)
	if err != nil {
		response.ErrorResponse(c, err)
		return
	}
	c.JSON(http.StatusAccepted, response.Response{
		Msg:  "任务已提交 Task accepted",
		Data: data,
	})
}

func (h *Handler) GetSubtitleTask(c *gin.Context) {
	taskId := strings.TrimSpace(c.Param("taskId"))
	if taskId == "" {
		response.ErrorResponse(c, apperrors.New(apperrors.CodeInvalidParams, "taskId不能为空 taskId is required"))
		return
	}

	data, err := h.Service.GetTaskStatus(c.Request.Context(), taskId)
	if err != nil {
		response.ErrorResponse(c, err)
		return
	}
	response.Success(c, data)
}

func (h *Handler) GetTaskHistory(c *gin.Context) {
	var req dto.TaskHistoryReq
	if err := c.ShouldBindQuery(&req); err != nil {
		response.ErrorResponse(c, apperrors.Wrap(apperrors.CodeInvalidParams, "参数错误 Invalid parameters", err))
		return
	}

	tasks, err := h.Service.GetTaskHistory(c.Request.Context(), req.Limit)
	if err != nil {
		response.ErrorResponse(c, err)
		return
	}
	response.Success(c, tasks)
}

func (h *Handler) DeleteTask(c *gin.Context) {
	taskId := strings.TrimSpace(c.Param("taskId"))
	if taskId == "" {
		response.ErrorResponse(c, apperrors.New(apperrors.CodeInvalidParams, "taskId不能为空 taskId is required"))
		return
	}

	if err := h.Service.DeleteTask(c.Request.Context(), taskId); err != nil {
		response.ErrorResponse(c, err)
		return
	}
	response.Success(c, nil)
}
