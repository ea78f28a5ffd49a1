package service

import (
	"fmt"

	"github.com/foliotrack/internal/db"
	"gorm.io/gorm"
)

const (
	retentionTableSessions   = "sessions"
	retentionTableRequestLog = "request_log"
)

// trimSessions 保留最近活跃的 limit 个会话，excludeID 对应的会话不参与淘汰且占用一个名额。
// 并发写入时可能短暂超出上限，这里只做尽力而为的修正。
func trimSessions(tx *gorm.DB, limit int, excludeID string) (int64, error) {
	if limit <= 0 {
		return 0, nil
	}

	others := tx.Model(&db.VisitorSession{})
	allowed := int64(limit)
	if excludeID != "" {
		others = others.Where("session_id <> ?", excludeID)
		allowed--
	}

	var total int64
	if err := others.Count(&total).Error; err != nil {
		return 0, fmt.Errorf("count sessions: %w", err)
	}

	excess := total - allowed
	if excess <= 0 {
		return 0, nil
	}

	query := tx.Model(&db.VisitorSession{})
	if excludeID != "" {
		query = query.Where("session_id <> ?", excludeID)
	}

	var stale []string
	if err := query.
		Order("last_active_at ASC").
		Order("session_id ASC").
		Limit(int(excess)).
		Pluck("session_id", &stale).Error; err != nil {
		return 0, fmt.Errorf("select stale sessions: %w", err)
	}
	if len(stale) == 0 {
		return 0, nil
	}

	result := tx.Where("session_id IN ?", stale).Delete(&db.VisitorSession{})
	if result.Error != nil {
		return 0, fmt.Errorf("delete stale sessions: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// trimRequestLogs 在插入前调用，删除最旧的记录，使插入后总数不超过 limit。
func trimRequestLogs(tx *gorm.DB, limit int) (int64, error) {
	if limit <= 0 {
		return 0, nil
	}

	var total int64
	if err := tx.Model(&db.RequestLog{}).Count(&total).Error; err != nil {
		return 0, fmt.Errorf("count request logs: %w", err)
	}

	excess := total - int64(limit-1)
	if excess <= 0 {
		return 0, nil
	}

	var stale []uint
	if err := tx.Model(&db.RequestLog{}).
		Order("created_at ASC").
		Order("id ASC").
		Limit(int(excess)).
		Pluck("id", &stale).Error; err != nil {
		return 0, fmt.Errorf("select stale request logs: %w", err)
	}
	if len(stale) == 0 {
		return 0, nil
	}

	result := tx.Where("id IN ?", stale).Delete(&db.RequestLog{})
	if result.Error != nil {
		return 0, fmt.Errorf("delete stale request logs: %w", result.Error)
	}
	return result.RowsAffected, nil
}
