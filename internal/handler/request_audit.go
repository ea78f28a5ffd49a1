package handler

import (
	"encoding/json"
	"net/http"
	"path"
	"strings"

	"github.com/foliotrack/internal/db"
	"github.com/foliotrack/internal/visit"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// IdentityCookie 保存访客自报的身份信息（URL 编码的 JSON）。
const IdentityCookie = "fl_identity"

var auditSkipPrefixes = []string{
	"/api",
	"/session-events",
	"/email-open-pixel",
	"/metrics",
	"/admin",
	"/static",
	"/ping",
}

var auditSkipExtensions = map[string]struct{}{
	".css": {}, ".js": {}, ".map": {}, ".png": {}, ".jpg": {}, ".jpeg": {},
	".gif": {}, ".svg": {}, ".ico": {}, ".webp": {}, ".woff": {}, ".woff2": {},
	".txt": {}, ".xml": {},
}

// RequestAudit 为每个页面请求写入一条审计日志，写入失败只记录日志，不影响响应。
func (a *API) RequestAudit() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		// 只记录成功送达的页面，404 等错误响应不计入。
		if c.Writer.Status() >= http.StatusBadRequest || !shouldAudit(c.Request) {
			return
		}

		meta := a.extractor().FromRequest(c.Request)
		entry := db.RequestLog{
			Method:          c.Request.Method,
			URI:             c.Request.URL.RequestURI(),
			UserAgent:       meta.UserAgent,
			IPAddress:       meta.IP,
			Country:         meta.Geo.Country,
			Region:          meta.Geo.Region,
			City:            meta.Geo.City,
			Timezone:        meta.Geo.Timezone,
			ISP:             meta.Geo.ISP,
			DeviceType:      meta.DeviceType,
			BrowserName:     meta.Browser,
			OperatingSystem: meta.OS,
			SessionID:       meta.IP,
		}
		if identity := identityFromCookie(c); !identity.IsEmpty() {
			entry.UserIdentity = datatypes.NewJSONType(identity)
			entry.UserEmail = identity.Email()
		}

		if err := a.requestLogs.Record(c.Request.Context(), entry); err != nil {
			a.log().Warn("request audit not recorded",
				zap.String("uri", entry.URI),
				zap.Error(err),
			)
		}
	}
}

func shouldAudit(r *http.Request) bool {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		return false
	}
	p := r.URL.Path
	for _, prefix := range auditSkipPrefixes {
		if p == prefix || strings.HasPrefix(p, prefix+"/") {
			return false
		}
	}
	if _, skip := auditSkipExtensions[strings.ToLower(path.Ext(p))]; skip {
		return false
	}
	return true
}

func identityFromCookie(c *gin.Context) visit.Identity {
	raw, err := c.Cookie(IdentityCookie)
	if err != nil || raw == "" {
		return nil
	}
	var identity visit.Identity
	if err := json.Unmarshal([]byte(raw), &identity); err != nil {
		return nil
	}
	return visit.NormalizeIdentity(identity)
}
