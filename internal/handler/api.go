package handler

import (
	"context"
	"time"

	"github.com/coder/quartz"
	"github.com/foliotrack/internal/db"
	"github.com/foliotrack/internal/metrics"
	"github.com/foliotrack/internal/service"
	"github.com/foliotrack/internal/visit"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type sessionRecorder interface {
	RecordBatch(ctx context.Context, input service.BatchInput, meta visit.RequestMeta) (service.BatchResult, error)
}

type sessionReader interface {
	List(ctx context.Context, filter service.SessionFilter) (service.SessionPage, error)
	Get(ctx context.Context, id string) (service.SessionSummary, error)
	Overview(ctx context.Context, limit int) (service.TrackingOverview, error)
}

type requestLogStore interface {
	Record(ctx context.Context, entry db.RequestLog) error
	List(ctx context.Context, page, perPage int) (service.RequestLogPage, error)
}

type outreachTracker interface {
	Create(ctx context.Context, input service.OutreachInput) (*db.OutreachEmail, error)
	List(ctx context.Context) ([]db.OutreachEmail, error)
	RecordOpen(ctx context.Context, token string, meta visit.RequestMeta) (*db.VisitorSession, error)
}

type authenticator func(username, password string) (*db.User, error)

// Options 配置 NewAPI 创建的服务。零值字段使用各服务的默认值。
type Options struct {
	Clock            quartz.Clock
	SessionCap       int
	RequestLogCap    int
	InactivityWindow time.Duration
	Locator          visit.GeoLocator
	Metrics          *metrics.Collector
	Logger           *zap.Logger
	SiteBaseURL      string
}

// API bundles shared dependencies for HTTP handlers.
type API struct {
	db          *gorm.DB
	sessions    sessionRecorder
	reports     sessionReader
	requestLogs requestLogStore
	outreach    outreachTracker
	auth        authenticator
	meta        *visit.MetaExtractor
	metrics     *metrics.Collector
	logger      *zap.Logger
	siteBaseURL string
}

// NewAPI constructs a handler set with shared services.
func NewAPI(gdb *gorm.DB, opts Options) *API {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := opts.Clock
	if clock == nil {
		clock = quartz.NewReal()
	}

	sessions := service.NewSessionService(gdb).
		WithClock(clock).
		WithInactivityWindow(opts.InactivityWindow).
		WithSessionCap(opts.SessionCap).
		WithMetrics(opts.Metrics).
		WithLogger(logger.Named("sessions"))

	return &API{
		db:       gdb,
		sessions: sessions,
		reports:  service.NewSessionQueryService(gdb).WithClock(clock),
		requestLogs: service.NewRequestLogService(gdb).
			WithClock(clock).
			WithCap(opts.RequestLogCap).
			WithMetrics(opts.Metrics),
		outreach: service.NewOutreachService(gdb).
			WithClock(clock).
			WithSessionCap(opts.SessionCap).
			WithMetrics(opts.Metrics),
		auth: func(username, password string) (*db.User, error) {
			return db.Authenticate(gdb, username, password)
		},
		meta:        visit.NewMetaExtractor(opts.Locator),
		metrics:     opts.Metrics,
		logger:      logger,
		siteBaseURL: opts.SiteBaseURL,
	}
}

// DB exposes the underlying gorm instance.
func (a *API) DB() *gorm.DB {
	return a.db
}

func (a *API) log() *zap.Logger {
	if a.logger == nil {
		return zap.NewNop()
	}
	return a.logger
}

func (a *API) extractor() *visit.MetaExtractor {
	if a.meta == nil {
		return visit.NewMetaExtractor(nil)
	}
	return a.meta
}
