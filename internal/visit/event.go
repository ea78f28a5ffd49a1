package visit

import (
	"net/url"
	"strings"
	"time"
)

// InactivityWindow 为会话的空闲过期时间，超过该时长未活跃的会话不再续写。
const InactivityWindow = 30 * time.Minute

// TimestampLayout 与浏览器 Date.toISOString 的输出保持一致（毫秒精度，UTC）。
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// Event 表示一次页面访问事件。Meta 仅用于合成事件（例如邮件打开）。
type Event struct {
	Path      string `json:"path"`
	Timestamp string `json:"timestamp"`
	Meta      string `json:"meta,omitempty"`
}

// History 为会话内按时间追加的访问记录。
type History []Event

// NewEvent 以给定时间构造事件，时间统一格式化为 UTC 毫秒精度字符串。
func NewEvent(path string, at time.Time) Event {
	return Event{Path: path, Timestamp: FormatTimestamp(at)}
}

// FormatTimestamp 将时间格式化为事件使用的时间戳字符串。
func FormatTimestamp(at time.Time) string {
	return at.UTC().Format(TimestampLayout)
}

// DedupKey 返回事件的去重键：路径与时间戳字符串直接拼接，其它字段不参与比较。
func DedupKey(e Event) string {
	return e.Path + e.Timestamp
}

// MergeHistory 将 incoming 追加到 base 之后，跳过 base 中已存在或 incoming 内部重复的事件。
// base 本身保持原样，不做回溯去重。
func MergeHistory(base History, incoming []Event) History {
	merged := make(History, 0, len(base)+len(incoming))
	seen := make(map[string]struct{}, len(base)+len(incoming))

	for _, event := range base {
		merged = append(merged, event)
		seen[DedupKey(event)] = struct{}{}
	}

	for _, event := range incoming {
		key := DedupKey(event)
		if _, exists := seen[key]; exists {
			continue
		}
		seen[key] = struct{}{}
		merged = append(merged, event)
	}

	return merged
}

var trafficSourceParams = []string{"ref", "source", "utm_source"}

// DetectTrafficSource 按 ref、source、utm_source 的顺序读取流量来源，均为空时返回空串。
func DetectTrafficSource(query url.Values) string {
	for _, key := range trafficSourceParams {
		if value := strings.TrimSpace(query.Get(key)); value != "" {
			return value
		}
	}
	return ""
}
