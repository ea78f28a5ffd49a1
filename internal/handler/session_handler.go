package handler

import (
	"errors"
	"net/http"

	"github.com/foliotrack/internal/service"
	"github.com/foliotrack/internal/visit"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type sessionEventsRequest struct {
	SessionID  string            `json:"sessionId"`
	Events     []visit.Event     `json:"events" binding:"required"`
	Identity   visit.Identity    `json:"identity"`
	DeviceInfo *visit.DeviceInfo `json:"deviceInfo"`
}

// RecordSessionEvents 接收客户端批量上报的访问事件。
// 会话过期轮换时响应中带 newSessionId，客户端必须改用该 ID。
func (a *API) RecordSessionEvents(c *gin.Context) {
	var req sessionEventsRequest
	if !bindJSON(c, &req, "events must be a list") {
		return
	}

	meta := a.extractor().FromRequest(c.Request)
	result, err := a.sessions.RecordBatch(c.Request.Context(), service.BatchInput{
		SessionID:  req.SessionID,
		Events:     req.Events,
		Identity:   req.Identity,
		DeviceInfo: req.DeviceInfo,
	}, meta)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidSessionID), errors.Is(err, service.ErrInvalidEvents):
			respondError(c, http.StatusBadRequest, err.Error())
		default:
			a.log().Error("record session events failed",
				zap.String("session_id", req.SessionID),
				zap.Int("events", len(req.Events)),
				zap.Error(err),
			)
			respondError(c, http.StatusInternalServerError, "failed to record session events")
		}
		return
	}

	if result.Rotated {
		c.JSON(http.StatusOK, gin.H{"success": true, "newSessionId": result.SessionID})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
