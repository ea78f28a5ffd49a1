package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/foliotrack/internal/db"
	"github.com/foliotrack/internal/service"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login 校验管理员账号并写入会话
func (a *API) Login(c *gin.Context) {
	var req loginRequest
	if !bindJSON(c, &req, "username and password are required") {
		return
	}

	user, err := a.auth(strings.TrimSpace(req.Username), req.Password)
	if err != nil {
		if errors.Is(err, db.ErrInvalidCredentials) {
			respondError(c, http.StatusUnauthorized, "用户名或密码错误")
			return
		}
		a.log().Error("admin login failed", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "登录失败")
		return
	}

	session := sessions.Default(c)
	session.Set("user_id", user.ID)
	session.Set("username", user.Username)
	if err := session.Save(); err != nil {
		respondError(c, http.StatusInternalServerError, "会话保存失败")
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "username": user.Username})
}

// Logout 处理用户登出
func (a *API) Logout(c *gin.Context) {
	session := sessions.Default(c)
	session.Clear()
	if err := session.Save(); err != nil {
		respondError(c, http.StatusInternalServerError, "会话保存失败")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// AuthRequired 未登录时返回 401
func AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)
		if session.Get("user_id") == nil {
			respondError(c, http.StatusUnauthorized, "unauthorized")
			c.Abort()
			return
		}
		c.Next()
	}
}

// ListSessions 分页返回会话列表。
func (a *API) ListSessions(c *gin.Context) {
	page, err := a.reports.List(c.Request.Context(), service.SessionFilter{
		Page:       queryInt(c, "page", 1),
		PerPage:    queryInt(c, "perPage", 20),
		DeviceType: c.Query("device"),
		Country:    c.Query("country"),
		Email:      c.Query("email"),
	})
	if err != nil {
		a.log().Error("list sessions failed", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	c.JSON(http.StatusOK, page)
}

// GetSession 返回单个会话详情。
func (a *API) GetSession(c *gin.Context) {
	summary, err := a.reports.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, service.ErrSessionNotFound) {
			respondError(c, http.StatusNotFound, err.Error())
			return
		}
		a.log().Error("get session failed", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "failed to load session")
		return
	}
	c.JSON(http.StatusOK, summary)
}

// TrackingOverview 返回后台概览数据。
func (a *API) TrackingOverview(c *gin.Context) {
	overview, err := a.reports.Overview(c.Request.Context(), queryInt(c, "limit", 5))
	if err != nil {
		a.log().Error("tracking overview failed", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "failed to load overview")
		return
	}
	c.JSON(http.StatusOK, overview)
}

// ListRequestLogs 分页返回请求审计日志。
func (a *API) ListRequestLogs(c *gin.Context) {
	page, err := a.requestLogs.List(c.Request.Context(), queryInt(c, "page", 1), queryInt(c, "perPage", 20))
	if err != nil {
		a.log().Error("list request logs failed", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "failed to list request logs")
		return
	}
	c.JSON(http.StatusOK, page)
}

type outreachRequest struct {
	ContactName  string `json:"contactName"`
	ContactEmail string `json:"contactEmail" binding:"required"`
	Company      string `json:"company"`
	Subject      string `json:"subject"`
}

type outreachResponse struct {
	db.OutreachEmail
	PixelURL string `json:"pixelUrl"`
}

// CreateOutreach 登记外联邮件并返回可嵌入的像素地址。
func (a *API) CreateOutreach(c *gin.Context) {
	var req outreachRequest
	if !bindJSON(c, &req, "contactEmail is required") {
		return
	}

	record, err := a.outreach.Create(c.Request.Context(), service.OutreachInput{
		ContactName:  req.ContactName,
		ContactEmail: req.ContactEmail,
		Company:      req.Company,
		Subject:      req.Subject,
	})
	if err != nil {
		if errors.Is(err, service.ErrContactEmailRequired) {
			respondError(c, http.StatusBadRequest, err.Error())
			return
		}
		a.log().Error("create outreach failed", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "failed to create outreach email")
		return
	}

	c.JSON(http.StatusCreated, outreachResponse{
		OutreachEmail: *record,
		PixelURL:      service.PixelURL(a.siteBaseURL, record.Token),
	})
}

// ListOutreach 返回所有外联邮件及其打开次数。
func (a *API) ListOutreach(c *gin.Context) {
	records, err := a.outreach.List(c.Request.Context())
	if err != nil {
		a.log().Error("list outreach failed", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "failed to list outreach emails")
		return
	}

	items := make([]outreachResponse, 0, len(records))
	for _, record := range records {
		items = append(items, outreachResponse{
			OutreachEmail: record,
			PixelURL:      service.PixelURL(a.siteBaseURL, record.Token),
		})
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}
