package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coder/quartz"
	"github.com/foliotrack/internal/db"
	"github.com/foliotrack/internal/metrics"
	"github.com/foliotrack/internal/visit"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const defaultSessionCap = 1000

var (
	// ErrInvalidSessionID 表示客户端提交的 sessionId 不是合法的 UUID。
	ErrInvalidSessionID = errors.New("invalid session id")
	// ErrInvalidEvents 表示 events 缺失或不是数组。
	ErrInvalidEvents = errors.New("events must be a list")
)

// DecisionKind 描述一次 flush 对会话行的处理方式。
type DecisionKind int

const (
	// DecisionNew 表示库中没有该会话，按新会话插入。
	DecisionNew DecisionKind = iota
	// DecisionContinue 表示会话仍在活跃窗口内，追加事件。
	DecisionContinue
	// DecisionRotate 表示会话已过期，换用新 ID 重新开始，旧记录保持不变。
	DecisionRotate
)

func (k DecisionKind) String() string {
	switch k {
	case DecisionNew:
		return "new"
	case DecisionContinue:
		return "continue"
	case DecisionRotate:
		return "rotate"
	default:
		return "unknown"
	}
}

// Decision 为 Decide 的结果。PriorHistory 仅在 Continue 时有值；SessionID 为本次写入的目标会话。
type Decision struct {
	Kind         DecisionKind
	SessionID    string
	PriorHistory visit.History
}

// Decide 根据已有记录与空闲时长决定新建、续写或轮换。
// 恰好等于 window 时仍视为活跃，只有严格超过才轮换。
func Decide(requestedID string, existing *db.VisitorSession, now time.Time, window time.Duration, newID func() string) Decision {
	if existing == nil {
		return Decision{Kind: DecisionNew, SessionID: requestedID}
	}
	if now.Sub(existing.LastActiveAt) > window {
		return Decision{Kind: DecisionRotate, SessionID: newID()}
	}
	return Decision{Kind: DecisionContinue, SessionID: existing.SessionID, PriorHistory: existing.History()}
}

// BatchInput 为客户端一次 flush 的内容。Events 为 nil 表示请求中没有合法的事件数组。
type BatchInput struct {
	SessionID  string
	Events     []visit.Event
	Identity   visit.Identity
	DeviceInfo *visit.DeviceInfo
}

// BatchResult 描述 flush 的处理结果。Rotated 为 true 时客户端必须改用 SessionID。
type BatchResult struct {
	SessionID string
	Decision  DecisionKind
	Rotated   bool
	Appended  int
}

// SessionService 负责将客户端批量上报的访问事件合并到会话记录中。
type SessionService struct {
	db      *gorm.DB
	clock   quartz.Clock
	window  time.Duration
	cap     int
	newID   func() string
	metrics *metrics.Collector
	logger  *zap.Logger
}

// NewSessionService 创建 SessionService，默认空闲窗口 30 分钟、最多保留 1000 个会话。
func NewSessionService(gdb *gorm.DB) *SessionService {
	return &SessionService{
		db:     gdb,
		clock:  quartz.NewReal(),
		window: visit.InactivityWindow,
		cap:    defaultSessionCap,
		newID:  uuid.NewString,
		logger: zap.NewNop(),
	}
}

// WithClock 替换时钟，便于测试过期边界。
func (s *SessionService) WithClock(clock quartz.Clock) *SessionService {
	if clock != nil {
		s.clock = clock
	}
	return s
}

// WithInactivityWindow 调整空闲窗口。
func (s *SessionService) WithInactivityWindow(d time.Duration) *SessionService {
	if d > 0 {
		s.window = d
	}
	return s
}

// WithSessionCap 调整会话保留上限。
func (s *SessionService) WithSessionCap(limit int) *SessionService {
	if limit > 0 {
		s.cap = limit
	}
	return s
}

// WithMetrics 绑定指标收集器。
func (s *SessionService) WithMetrics(m *metrics.Collector) *SessionService {
	s.metrics = m
	return s
}

// WithLogger 绑定日志器。
func (s *SessionService) WithLogger(logger *zap.Logger) *SessionService {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// RecordBatch 在单个事务中完成查找、决策、合并、写入与保留裁剪。
func (s *SessionService) RecordBatch(ctx context.Context, input BatchInput, meta visit.RequestMeta) (BatchResult, error) {
	parsed, err := uuid.Parse(strings.TrimSpace(input.SessionID))
	if err != nil {
		return BatchResult{}, ErrInvalidSessionID
	}
	if input.Events == nil {
		return BatchResult{}, ErrInvalidEvents
	}

	requestedID := parsed.String()
	now := s.clock.Now().UTC()
	identity := visit.NormalizeIdentity(input.Identity)
	device := meta.DeviceSnapshot(input.DeviceInfo)

	var result BatchResult
	var trimmed int64

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing *db.VisitorSession
		var row db.VisitorSession
		lookup := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("session_id = ?", requestedID).
			First(&row)
		switch {
		case lookup.Error == nil:
			existing = &row
		case !errors.Is(lookup.Error, gorm.ErrRecordNotFound):
			return fmt.Errorf("load session: %w", lookup.Error)
		}

		decision := Decide(requestedID, existing, now, s.window, s.newID)
		result = BatchResult{
			SessionID: decision.SessionID,
			Decision:  decision.Kind,
			Rotated:   decision.Kind == DecisionRotate,
		}

		if decision.Kind == DecisionContinue {
			history := visit.MergeHistory(decision.PriorHistory, input.Events)
			result.Appended = len(history) - len(decision.PriorHistory)

			row.VisitHistory = datatypes.NewJSONType(history)
			row.LastActiveAt = now
			row.IPAddress = meta.IP
			row.SetSnapshot(device, meta.Geo)
			if !identity.IsEmpty() {
				row.SetIdentity(identity)
			}
			if err := tx.Save(&row).Error; err != nil {
				return fmt.Errorf("update session: %w", err)
			}
		} else {
			history := visit.MergeHistory(nil, input.Events)
			result.Appended = len(history)

			session := db.VisitorSession{
				SessionID:    decision.SessionID,
				IPAddress:    meta.IP,
				VisitHistory: datatypes.NewJSONType(history),
				StartedAt:    now,
				LastActiveAt: now,
			}
			session.SetIdentity(identity)
			session.SetSnapshot(device, meta.Geo)
			if err := tx.Create(&session).Error; err != nil {
				return fmt.Errorf("create session: %w", err)
			}
		}

		removed, err := trimSessions(tx, s.cap, decision.SessionID)
		if err != nil {
			return err
		}
		trimmed = removed
		return nil
	})
	if err != nil {
		return BatchResult{}, err
	}

	s.metrics.ObserveReconcile(result.Decision.String(), len(input.Events))
	s.metrics.AddRetentionDeleted(retentionTableSessions, trimmed)
	if result.Rotated {
		s.logger.Info("session expired, rotated to new id",
			zap.String("expired_session_id", requestedID),
			zap.String("session_id", result.SessionID),
		)
	}

	return result, nil
}
