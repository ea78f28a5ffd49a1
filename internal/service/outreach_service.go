package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/coder/quartz"
	"github.com/foliotrack/internal/db"
	"github.com/foliotrack/internal/metrics"
	"github.com/foliotrack/internal/visit"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	// EmailOpenPath 为邮件打开事件写入会话历史的合成路径。
	EmailOpenPath = "/email/open"
	// RecruiterEncounterTag 标记由追踪像素合成的会话。
	RecruiterEncounterTag = "recruiter_encounter"
	// PixelRoute 为追踪像素的公开路径。
	PixelRoute = "/email-open-pixel"
)

var (
	// ErrInvalidToken 表示追踪 token 缺失或格式不合法。
	ErrInvalidToken = errors.New("invalid tracking token")
	// ErrOutreachNotFound 表示 token 没有对应的外联邮件。
	ErrOutreachNotFound = errors.New("outreach email not found")
	// ErrContactEmailRequired 表示创建外联记录时缺少收件人邮箱。
	ErrContactEmailRequired = errors.New("contact email is required")
)

// OutreachInput 用于登记一封需要追踪打开情况的邮件。
type OutreachInput struct {
	ContactName  string
	ContactEmail string
	Company      string
	Subject      string
}

// OutreachService 管理外联邮件的追踪 token，并在像素被加载时记录打开。
type OutreachService struct {
	db      *gorm.DB
	clock   quartz.Clock
	cap     int
	metrics *metrics.Collector
}

// NewOutreachService 创建 OutreachService。
func NewOutreachService(gdb *gorm.DB) *OutreachService {
	return &OutreachService{db: gdb, clock: quartz.NewReal(), cap: defaultSessionCap}
}

// WithClock 替换时钟。
func (s *OutreachService) WithClock(clock quartz.Clock) *OutreachService {
	if clock != nil {
		s.clock = clock
	}
	return s
}

// WithSessionCap 与 SessionService 共用同一个会话保留上限。
func (s *OutreachService) WithSessionCap(limit int) *OutreachService {
	if limit > 0 {
		s.cap = limit
	}
	return s
}

// WithMetrics 绑定指标收集器。
func (s *OutreachService) WithMetrics(m *metrics.Collector) *OutreachService {
	s.metrics = m
	return s
}

// Create 登记外联邮件并生成追踪 token。
func (s *OutreachService) Create(ctx context.Context, input OutreachInput) (*db.OutreachEmail, error) {
	email := strings.TrimSpace(input.ContactEmail)
	if email == "" {
		return nil, ErrContactEmailRequired
	}

	record := db.OutreachEmail{
		Token:        uuid.NewString(),
		ContactName:  strings.TrimSpace(input.ContactName),
		ContactEmail: email,
		Company:      strings.TrimSpace(input.Company),
		Subject:      strings.TrimSpace(input.Subject),
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return nil, fmt.Errorf("create outreach email: %w", err)
	}
	return &record, nil
}

// List 按创建时间倒序返回所有外联邮件。
func (s *OutreachService) List(ctx context.Context) ([]db.OutreachEmail, error) {
	var records []db.OutreachEmail
	if err := s.db.WithContext(ctx).Order("created_at DESC").Order("id DESC").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("list outreach emails: %w", err)
	}
	return records, nil
}

// RecordOpen 累加打开次数并合成一个“招聘方来访”会话。
// 像素没有客户端会话上下文，因此总是以新 ID 插入，不经过 SessionService 的查找逻辑。
func (s *OutreachService) RecordOpen(ctx context.Context, token string, meta visit.RequestMeta) (*db.VisitorSession, error) {
	parsed, err := uuid.Parse(strings.TrimSpace(token))
	if err != nil {
		return nil, ErrInvalidToken
	}

	now := s.clock.Now().UTC()
	var session db.VisitorSession
	var trimmed int64

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var record db.OutreachEmail
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("token = ?", parsed.String()).
			First(&record).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrOutreachNotFound
			}
			return fmt.Errorf("load outreach email: %w", err)
		}

		if err := tx.Model(&record).Updates(map[string]any{
			"open_count":     gorm.Expr("open_count + ?", 1),
			"last_opened_at": now,
		}).Error; err != nil {
			return fmt.Errorf("update outreach email: %w", err)
		}

		event := visit.NewEvent(EmailOpenPath, now)
		event.Meta = RecruiterEncounterTag

		session = db.VisitorSession{
			SessionID:    uuid.NewString(),
			IPAddress:    meta.IP,
			VisitHistory: datatypes.NewJSONType(visit.History{event}),
			StartedAt:    now,
			LastActiveAt: now,
		}
		session.SetIdentity(visit.NormalizeIdentity(visit.Identity{
			"name":    record.ContactName,
			"email":   record.ContactEmail,
			"company": record.Company,
			"source":  RecruiterEncounterTag,
		}))
		session.SetSnapshot(meta.DeviceSnapshot(nil), meta.Geo)
		if err := tx.Create(&session).Error; err != nil {
			return fmt.Errorf("create encounter session: %w", err)
		}

		removed, err := trimSessions(tx, s.cap, session.SessionID)
		if err != nil {
			return err
		}
		trimmed = removed
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.AddRetentionDeleted(retentionTableSessions, trimmed)
	return &session, nil
}

// PixelURL 拼出可嵌入邮件正文的追踪像素地址。
func PixelURL(baseURL, token string) string {
	return strings.TrimRight(baseURL, "/") + PixelRoute + "?token=" + url.QueryEscape(token)
}
