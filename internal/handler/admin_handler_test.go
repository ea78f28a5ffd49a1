package handler

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/foliotrack/internal/db"
	"github.com/foliotrack/internal/service"
	"github.com/foliotrack/internal/visit"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupAdminHandlerTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:admin-handler-%d?mode=memory&cache=shared", time.Now().UnixNano())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.Migrate(gdb); err != nil {
		t.Fatalf("failed to migrate test db: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })
	return gdb
}

func newAdminRouter(api *API) *gin.Engine {
	router := gin.New()
	router.Use(sessions.Sessions("foliotrack_session", cookie.NewStore([]byte("test-secret"))))

	admin := router.Group("/admin/api")
	admin.POST("/login", api.Login)
	admin.POST("/logout", api.Logout)

	auth := admin.Group("")
	auth.Use(AuthRequired())
	auth.GET("/sessions", api.ListSessions)
	auth.GET("/sessions/:id", api.GetSession)
	auth.GET("/overview", api.TrackingOverview)
	auth.GET("/request-logs", api.ListRequestLogs)
	auth.GET("/outreach", api.ListOutreach)
	auth.POST("/outreach", api.CreateOutreach)
	return router
}

func login(t *testing.T, router *gin.Engine, username, password string) *httptest.ResponseRecorder {
	t.Helper()
	body := fmt.Sprintf(`{"username":%q,"password":%q}`, username, password)
	req := httptest.NewRequest(http.MethodPost, "/admin/api/login", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func authedRequest(method, target, body string, cookies []*http.Cookie) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	return req
}

func TestAuthRequiredRejectsAnonymous(t *testing.T) {
	gdb := setupAdminHandlerTestDB(t)
	router := newAdminRouter(NewAPI(gdb, Options{}))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/api/sessions", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestLoginRejectsBadPassword(t *testing.T) {
	gdb := setupAdminHandlerTestDB(t)
	if err := db.EnsureUser(gdb, "admin", "secret"); err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	router := newAdminRouter(NewAPI(gdb, Options{}))

	if w := login(t, router, "admin", "wrong"); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	if w := login(t, router, "nobody", "secret"); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unknown user, got %d", w.Code)
	}
}

func TestAdminReportsAfterLogin(t *testing.T) {
	gdb := setupAdminHandlerTestDB(t)
	if err := db.EnsureUser(gdb, "admin", "secret"); err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	api := NewAPI(gdb, Options{SiteBaseURL: "https://folio.example"})
	router := newAdminRouter(api)

	id := uuid.NewString()
	if _, err := api.sessions.RecordBatch(context.Background(), service.BatchInput{
		SessionID: id,
		Events:    []visit.Event{visit.NewEvent("/home", time.Now())},
	}, visit.RequestMeta{DeviceType: visit.DeviceDesktop}); err != nil {
		t.Fatalf("seed session: %v", err)
	}

	w := login(t, router, "admin", "secret")
	if w.Code != http.StatusOK {
		t.Fatalf("expected login 200, got %d: %s", w.Code, w.Body.String())
	}
	cookies := w.Result().Cookies()
	if len(cookies) == 0 {
		t.Fatalf("expected session cookie after login")
	}

	list := httptest.NewRecorder()
	router.ServeHTTP(list, authedRequest(http.MethodGet, "/admin/api/sessions?perPage=5", "", cookies))
	if list.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", list.Code)
	}
	payload := decodeBody(t, list)
	if payload["total"] != float64(1) {
		t.Fatalf("expected one session, got %v", payload["total"])
	}

	detail := httptest.NewRecorder()
	router.ServeHTTP(detail, authedRequest(http.MethodGet, "/admin/api/sessions/"+id, "", cookies))
	if detail.Code != http.StatusOK {
		t.Fatalf("expected 200 for session detail, got %d", detail.Code)
	}

	missing := httptest.NewRecorder()
	router.ServeHTTP(missing, authedRequest(http.MethodGet, "/admin/api/sessions/"+uuid.NewString(), "", cookies))
	if missing.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown session, got %d", missing.Code)
	}

	created := httptest.NewRecorder()
	router.ServeHTTP(created, authedRequest(http.MethodPost, "/admin/api/outreach", `{"contactName":"Grace","contactEmail":"grace@example.com"}`, cookies))
	if created.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", created.Code, created.Body.String())
	}
	outreach := decodeBody(t, created)
	want := "https://folio.example/email-open-pixel?token=" + outreach["token"].(string)
	if outreach["pixelUrl"] != want {
		t.Fatalf("expected pixel url %s, got %v", want, outreach["pixelUrl"])
	}

	overview := httptest.NewRecorder()
	router.ServeHTTP(overview, authedRequest(http.MethodGet, "/admin/api/overview", "", cookies))
	if overview.Code != http.StatusOK || decodeBody(t, overview)["totalSessions"] != float64(1) {
		t.Fatalf("unexpected overview: %d %s", overview.Code, overview.Body.String())
	}

	logout := httptest.NewRecorder()
	router.ServeHTTP(logout, authedRequest(http.MethodPost, "/admin/api/logout", "", cookies))
	if logout.Code != http.StatusOK {
		t.Fatalf("expected logout 200, got %d", logout.Code)
	}
	after := httptest.NewRecorder()
	router.ServeHTTP(after, authedRequest(http.MethodGet, "/admin/api/sessions", "", logout.Result().Cookies()))
	if after.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout, got %d", after.Code)
	}
}
