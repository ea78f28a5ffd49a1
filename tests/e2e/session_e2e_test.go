package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/foliotrack/internal/db"
	"github.com/foliotrack/internal/handler"
	"github.com/foliotrack/internal/router"
	"github.com/foliotrack/internal/service"
	"github.com/foliotrack/internal/tracker"
	"github.com/gin-gonic/gin"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const baseURL = "http://foliotrack.test"

type localClient struct {
	handler http.Handler
	jar     http.CookieJar
}

func newLocalClient(handler http.Handler, withJar bool) *localClient {
	var jar http.CookieJar
	if withJar {
		if j, err := cookiejar.New(nil); err == nil {
			jar = j
		}
	}
	return &localClient{handler: handler, jar: jar}
}

func (c *localClient) Do(req *http.Request) (*http.Response, error) {
	if c.jar != nil {
		for _, cookie := range c.jar.Cookies(req.URL) {
			req.AddCookie(cookie)
		}
	}
	w := httptest.NewRecorder()
	c.handler.ServeHTTP(w, req)
	resp := w.Result()
	if c.jar != nil {
		c.jar.SetCookies(req.URL, resp.Cookies())
	}
	return resp, nil
}

type e2eSuite struct {
	db      *gorm.DB
	clock   *quartz.Mock
	handler http.Handler
}

func newE2ESuite(t *testing.T) *e2eSuite {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:e2e-%d?mode=memory&cache=shared", time.Now().UnixNano())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	if err := db.Migrate(gdb); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	if err := db.EnsureUser(gdb, "admin", "e2e-secret"); err != nil {
		t.Fatalf("failed to seed user: %v", err)
	}

	mClock := quartz.NewMock(t)
	api := handler.NewAPI(gdb, handler.Options{Clock: mClock, SiteBaseURL: baseURL})
	engine := router.SetupRouter(api, router.Options{SessionSecret: "e2e-session-secret"})

	return &e2eSuite{db: gdb, clock: mClock, handler: engine}
}

func (s *e2eSuite) session(t *testing.T, id string) db.VisitorSession {
	t.Helper()
	var session db.VisitorSession
	if err := s.db.Where("session_id = ?", id).First(&session).Error; err != nil {
		t.Fatalf("load session %s: %v", id, err)
	}
	return session
}

func paths(session db.VisitorSession) []string {
	var out []string
	for _, event := range session.History() {
		out = append(out, event.Path)
	}
	return out
}

func TestE2E_IdleVisitorIsRotated(t *testing.T) {
	suite := newE2ESuite(t)
	ctx := context.Background()

	identity := tracker.NewIdentityStore(tracker.NewMemoryStore(), suite.clock)
	transport := tracker.NewHTTPTransport(baseURL, newLocalClient(suite.handler, false))
	client := tracker.New(identity, transport, tracker.WithClock(suite.clock))

	if err := client.LoadPage(baseURL + "/home"); err != nil {
		t.Fatalf("load page: %v", err)
	}
	suite.clock.Advance(3 * time.Second).MustWait(ctx)
	client.Navigate("/projects")
	if err := client.Flush(ctx, tracker.FlushInterval); err != nil {
		t.Fatalf("first flush: %v", err)
	}

	firstID := client.SessionID()
	first := suite.session(t, firstID)
	if got := paths(first); len(got) != 2 || got[0] != "/home" || got[1] != "/projects" {
		t.Fatalf("unexpected first session history: %v", got)
	}

	suite.clock.Advance(40 * time.Minute).MustWait(ctx)
	client.Navigate("/contact")
	if err := client.Flush(ctx, tracker.FlushInterval); err != nil {
		t.Fatalf("late flush: %v", err)
	}

	secondID := client.SessionID()
	if secondID == firstID {
		t.Fatalf("expected the client to adopt a rotated session id")
	}
	if got := paths(suite.session(t, firstID)); len(got) != 2 {
		t.Fatalf("expired session must stay untouched, got %v", got)
	}
	second := suite.session(t, secondID)
	if got := paths(second); len(got) != 1 || got[0] != "/contact" {
		t.Fatalf("unexpected rotated session history: %v", got)
	}

	suite.clock.Advance(time.Minute).MustWait(ctx)
	client.Navigate("/home")
	if err := client.Flush(ctx, tracker.FlushInterval); err != nil {
		t.Fatalf("follow-up flush: %v", err)
	}
	if client.SessionID() != secondID {
		t.Fatalf("follow-up flush should keep the rotated id")
	}
	if got := paths(suite.session(t, secondID)); len(got) != 2 {
		t.Fatalf("follow-up events should append to the rotated session, got %v", got)
	}

	var total int64
	suite.db.Model(&db.VisitorSession{}).Count(&total)
	if total != 2 {
		t.Fatalf("expected exactly two sessions, got %d", total)
	}
}

func TestE2E_OutreachPixelCreatesEncounter(t *testing.T) {
	suite := newE2ESuite(t)
	admin := newLocalClient(suite.handler, true)

	login, _ := http.NewRequest(http.MethodPost, baseURL+"/admin/api/login", bytes.NewBufferString(`{"username":"admin","password":"e2e-secret"}`))
	login.Header.Set("Content-Type", "application/json")
	resp, _ := admin.Do(login)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login failed with %d", resp.StatusCode)
	}

	create, _ := http.NewRequest(http.MethodPost, baseURL+"/admin/api/outreach", bytes.NewBufferString(`{"contactName":"Grace","contactEmail":"grace@example.com","company":"Navy"}`))
	create.Header.Set("Content-Type", "application/json")
	resp, _ = admin.Do(create)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create outreach failed with %d", resp.StatusCode)
	}
	var created struct {
		Token    string `json:"token"`
		PixelURL string `json:"pixelUrl"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode outreach: %v", err)
	}

	public := newLocalClient(suite.handler, false)
	pixel, _ := http.NewRequest(http.MethodGet, created.PixelURL, nil)
	resp, _ = public.Do(pixel)
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "image/gif" {
		t.Fatalf("unexpected pixel response %d %q", resp.StatusCode, resp.Header.Get("Content-Type"))
	}

	var sessions []db.VisitorSession
	if err := suite.db.Find(&sessions).Error; err != nil {
		t.Fatalf("load sessions: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("expected one encounter session, got %d", len(sessions))
	}
	history := sessions[0].History()
	if len(history) != 1 || history[0].Path != service.EmailOpenPath || history[0].Meta != service.RecruiterEncounterTag {
		t.Fatalf("unexpected encounter history: %+v", history)
	}
	if sessions[0].UserEmail != "grace@example.com" {
		t.Fatalf("unexpected encounter email %q", sessions[0].UserEmail)
	}

	overview, _ := http.NewRequest(http.MethodGet, baseURL+"/admin/api/overview", nil)
	resp, _ = admin.Do(overview)
	var summary service.TrackingOverview
	if err := json.NewDecoder(resp.Body).Decode(&summary); err != nil {
		t.Fatalf("decode overview: %v", err)
	}
	if summary.RecruiterEncounters != 1 {
		t.Fatalf("expected one recruiter encounter, got %d", summary.RecruiterEncounters)
	}
}
