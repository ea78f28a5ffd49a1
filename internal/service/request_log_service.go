package service

import (
	"context"
	"fmt"

	"github.com/coder/quartz"
	"github.com/foliotrack/internal/db"
	"github.com/foliotrack/internal/metrics"
	"gorm.io/gorm"
)

const defaultRequestLogCap = 10000

// RequestLogService 负责写入和查询请求审计日志。
type RequestLogService struct {
	db      *gorm.DB
	clock   quartz.Clock
	cap     int
	metrics *metrics.Collector
}

// NewRequestLogService 创建 RequestLogService，默认最多保留 10000 条日志。
func NewRequestLogService(gdb *gorm.DB) *RequestLogService {
	return &RequestLogService{db: gdb, clock: quartz.NewReal(), cap: defaultRequestLogCap}
}

// WithClock 替换时钟。
func (s *RequestLogService) WithClock(clock quartz.Clock) *RequestLogService {
	if clock != nil {
		s.clock = clock
	}
	return s
}

// WithCap 调整日志保留上限。
func (s *RequestLogService) WithCap(limit int) *RequestLogService {
	if limit > 0 {
		s.cap = limit
	}
	return s
}

// WithMetrics 绑定指标收集器。
func (s *RequestLogService) WithMetrics(m *metrics.Collector) *RequestLogService {
	s.metrics = m
	return s
}

// Record 先裁剪旧日志再插入，保证插入后总数不超过上限。
func (s *RequestLogService) Record(ctx context.Context, entry db.RequestLog) error {
	entry.ID = 0
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.clock.Now().UTC()
	}

	var trimmed int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		removed, err := trimRequestLogs(tx, s.cap)
		if err != nil {
			return err
		}
		trimmed = removed
		if err := tx.Create(&entry).Error; err != nil {
			return fmt.Errorf("create request log: %w", err)
		}
		return nil
	})
	if err != nil {
		s.metrics.ObserveRequestLog("error")
		return err
	}

	s.metrics.ObserveRequestLog("ok")
	s.metrics.AddRetentionDeleted(retentionTableRequestLog, trimmed)
	return nil
}

// RequestLogPage 为分页查询结果。
type RequestLogPage struct {
	Items   []db.RequestLog `json:"items"`
	Total   int64           `json:"total"`
	Page    int             `json:"page"`
	PerPage int             `json:"perPage"`
}

// List 按时间倒序分页返回日志。
func (s *RequestLogService) List(ctx context.Context, page, perPage int) (RequestLogPage, error) {
	page, perPage = normalizePage(page, perPage)

	result := RequestLogPage{Page: page, PerPage: perPage}
	if err := s.db.WithContext(ctx).Model(&db.RequestLog{}).Count(&result.Total).Error; err != nil {
		return RequestLogPage{}, fmt.Errorf("count request logs: %w", err)
	}
	if err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Order("id DESC").
		Offset((page - 1) * perPage).
		Limit(perPage).
		Find(&result.Items).Error; err != nil {
		return RequestLogPage{}, fmt.Errorf("list request logs: %w", err)
	}
	return result, nil
}

func normalizePage(page, perPage int) (int, int) {
	if page < 1 {
		page = 1
	}
	if perPage <= 0 {
		perPage = 20
	}
	if perPage > 100 {
		perPage = 100
	}
	return page, perPage
}
