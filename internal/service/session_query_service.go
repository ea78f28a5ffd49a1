package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coder/quartz"
	"github.com/foliotrack/internal/db"
	"gorm.io/gorm"
)

const activeNowWindow = 5 * time.Minute

// ErrSessionNotFound 表示会话不存在或已被裁剪。
var ErrSessionNotFound = errors.New("session not found")

// SessionFilter 为会话列表的筛选条件，空字段表示不过滤。
type SessionFilter struct {
	Page       int
	PerPage    int
	DeviceType string
	Country    string
	Email      string
}

// SessionSummary 在会话记录基础上附加展示用的派生字段。
type SessionSummary struct {
	db.VisitorSession
	ActiveNow bool          `json:"activeNow"`
	Duration  time.Duration `json:"duration"`
	PageCount int           `json:"pageCount"`
}

// SessionPage 为会话分页结果。
type SessionPage struct {
	Items   []SessionSummary `json:"items"`
	Total   int64            `json:"total"`
	Page    int              `json:"page"`
	PerPage int              `json:"perPage"`
}

// CountryStat 统计每个国家的会话数。
type CountryStat struct {
	Country  string `json:"country"`
	Sessions int64  `json:"sessions"`
}

// TrackingOverview 汇总会话与请求日志的整体数据。
type TrackingOverview struct {
	TotalSessions       int64         `json:"totalSessions"`
	ActiveNow           int64         `json:"activeNow"`
	IdentifiedSessions  int64         `json:"identifiedSessions"`
	RecruiterEncounters int64         `json:"recruiterEncounters"`
	RequestLogCount     int64         `json:"requestLogCount"`
	TopCountries        []CountryStat `json:"topCountries"`
}

// SessionQueryService 提供后台展示用的只读查询。
type SessionQueryService struct {
	db    *gorm.DB
	clock quartz.Clock
}

// NewSessionQueryService 创建 SessionQueryService。
func NewSessionQueryService(gdb *gorm.DB) *SessionQueryService {
	return &SessionQueryService{db: gdb, clock: quartz.NewReal()}
}

// WithClock 替换时钟，用于计算“当前在线”。
func (s *SessionQueryService) WithClock(clock quartz.Clock) *SessionQueryService {
	if clock != nil {
		s.clock = clock
	}
	return s
}

// List 按最近活跃时间倒序分页返回会话。
func (s *SessionQueryService) List(ctx context.Context, filter SessionFilter) (SessionPage, error) {
	page, perPage := normalizePage(filter.Page, filter.PerPage)
	result := SessionPage{Page: page, PerPage: perPage, Items: []SessionSummary{}}

	if err := s.filtered(ctx, filter).Count(&result.Total).Error; err != nil {
		return SessionPage{}, fmt.Errorf("count sessions: %w", err)
	}

	var rows []db.VisitorSession
	if err := s.filtered(ctx, filter).
		Order("last_active_at DESC").
		Order("session_id ASC").
		Offset((page - 1) * perPage).
		Limit(perPage).
		Find(&rows).Error; err != nil {
		return SessionPage{}, fmt.Errorf("list sessions: %w", err)
	}

	now := s.clock.Now().UTC()
	for i := range rows {
		result.Items = append(result.Items, summarize(rows[i], now))
	}
	return result, nil
}

// Get 返回单个会话的完整记录。
func (s *SessionQueryService) Get(ctx context.Context, id string) (SessionSummary, error) {
	var row db.VisitorSession
	if err := s.db.WithContext(ctx).Where("session_id = ?", strings.ToLower(strings.TrimSpace(id))).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return SessionSummary{}, ErrSessionNotFound
		}
		return SessionSummary{}, fmt.Errorf("load session: %w", err)
	}
	return summarize(row, s.clock.Now().UTC()), nil
}

// Overview 汇总会话总数、在线数、招聘方来访与热门国家。
func (s *SessionQueryService) Overview(ctx context.Context, limit int) (TrackingOverview, error) {
	if limit <= 0 {
		limit = 5
	}

	var overview TrackingOverview
	gdb := s.db.WithContext(ctx)
	now := s.clock.Now().UTC()

	if err := gdb.Model(&db.VisitorSession{}).Count(&overview.TotalSessions).Error; err != nil {
		return overview, err
	}
	if err := gdb.Model(&db.VisitorSession{}).
		Where("last_active_at >= ?", now.Add(-activeNowWindow)).
		Count(&overview.ActiveNow).Error; err != nil {
		return overview, err
	}
	if err := gdb.Model(&db.VisitorSession{}).
		Where("user_email <> '' OR user_name <> '' OR user_phone <> ''").
		Count(&overview.IdentifiedSessions).Error; err != nil {
		return overview, err
	}
	if err := gdb.Model(&db.VisitorSession{}).
		Where("visit_history LIKE ?", "%"+RecruiterEncounterTag+"%").
		Count(&overview.RecruiterEncounters).Error; err != nil {
		return overview, err
	}
	if err := gdb.Model(&db.RequestLog{}).Count(&overview.RequestLogCount).Error; err != nil {
		return overview, err
	}

	var countries []CountryStat
	if err := gdb.Model(&db.VisitorSession{}).
		Select("country_name AS country, COUNT(*) AS sessions").
		Where("country_name <> ''").
		Group("country_name").
		Order("sessions DESC").
		Order("country_name ASC").
		Limit(limit).
		Scan(&countries).Error; err != nil {
		return overview, err
	}
	if countries == nil {
		countries = []CountryStat{}
	}
	overview.TopCountries = countries
	return overview, nil
}

func (s *SessionQueryService) filtered(ctx context.Context, filter SessionFilter) *gorm.DB {
	query := s.db.WithContext(ctx).Model(&db.VisitorSession{})
	if device := strings.TrimSpace(filter.DeviceType); device != "" {
		query = query.Where("device_type = ?", device)
	}
	if country := strings.TrimSpace(filter.Country); country != "" {
		query = query.Where("country_name = ?", country)
	}
	if email := strings.ToLower(strings.TrimSpace(filter.Email)); email != "" {
		query = query.Where("LOWER(user_email) LIKE ?", "%"+email+"%")
	}
	return query
}

func summarize(row db.VisitorSession, now time.Time) SessionSummary {
	duration := row.LastActiveAt.Sub(row.StartedAt)
	if duration < 0 {
		duration = 0
	}
	return SessionSummary{
		VisitorSession: row,
		ActiveNow:      now.Sub(row.LastActiveAt) <= activeNowWindow,
		Duration:       duration,
		PageCount:      len(row.History()),
	}
}
