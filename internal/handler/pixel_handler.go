package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/foliotrack/internal/service"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// transparentGIF 为 1x1 透明 GIF。
var transparentGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00, 0x00,
	0x00, 0x00, 0x00, 0xff, 0xff, 0xff, 0x21, 0xf9, 0x04, 0x01, 0x00, 0x00, 0x00,
	0x00, 0x2c, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, 0x02, 0x02,
	0x44, 0x01, 0x00, 0x3b,
}

// EmailOpenPixel 返回追踪像素并尽力记录一次邮件打开。
// 无论 token 是否有效、存储是否出错，响应始终为 200 + GIF。
func (a *API) EmailOpenPixel(c *gin.Context) {
	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		token = strings.TrimSpace(c.Param("token"))
	}

	a.recordOpen(c, token)

	c.Header("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
	c.Header("Pragma", "no-cache")
	c.Header("Expires", "0")
	c.Data(http.StatusOK, "image/gif", transparentGIF)
}

func (a *API) recordOpen(c *gin.Context, token string) {
	defer func() {
		if rec := recover(); rec != nil {
			a.metrics.ObservePixel("error")
			a.log().Error("email open pixel panicked", zap.Any("panic", rec))
		}
	}()

	if token == "" {
		a.metrics.ObservePixel("missing_token")
		a.log().Warn("email open pixel requested without token")
		return
	}

	meta := a.extractor().FromRequest(c.Request)
	session, err := a.outreach.RecordOpen(c.Request.Context(), token, meta)
	if err != nil {
		result := "error"
		switch {
		case errors.Is(err, service.ErrInvalidToken):
			result = "invalid_token"
		case errors.Is(err, service.ErrOutreachNotFound):
			result = "unknown_token"
		}
		a.metrics.ObservePixel(result)
		a.log().Warn("email open not recorded", zap.String("token", token), zap.Error(err))
		return
	}

	a.metrics.ObservePixel("tracked")
	a.log().Info("email opened",
		zap.String("token", token),
		zap.String("session_id", session.SessionID),
	)
}
