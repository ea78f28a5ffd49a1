package tracker

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/foliotrack/internal/visit"
	"go.uber.org/zap"
)

const (
	defaultFlushInterval = 5 * time.Second
	// unload 时页面即将销毁，只给最后一次上报很短的时间。
	unloadFlushTimeout = 2 * time.Second
)

// FlushReason 标记一次上报的触发原因，仅用于日志。
type FlushReason string

const (
	FlushInterval   FlushReason = "interval"
	FlushVisibility FlushReason = "visibility"
	FlushUnload     FlushReason = "unload"
	FlushShutdown   FlushReason = "shutdown"
	FlushManual     FlushReason = "manual"
)

// Batch 为一次上报的请求体。
type Batch struct {
	SessionID  string            `json:"sessionId"`
	Events     []visit.Event     `json:"events"`
	Identity   visit.Identity    `json:"identity,omitempty"`
	DeviceInfo *visit.DeviceInfo `json:"deviceInfo,omitempty"`
}

// Ack 为服务端的响应。SessionIDOverride 非空表示服务端已轮换会话，客户端必须改用该 ID。
type Ack struct {
	Success           bool   `json:"success"`
	SessionIDOverride string `json:"newSessionId,omitempty"`
	Error             string `json:"error,omitempty"`
}

// Transport 负责把 Batch 送达服务端。
type Transport interface {
	Send(ctx context.Context, batch Batch) (Ack, error)
}

// Tracker 在客户端缓存页面访问事件，并定期批量上报。
// 上报失败的批次直接丢弃，不重试。
type Tracker struct {
	identity  *IdentityStore
	transport Transport
	clock     quartz.Clock
	logger    *zap.Logger
	interval  time.Duration
	device    *visit.DeviceInfo

	mu        sync.Mutex
	sessionID string
	queue     []visit.Event
	lastPath  string
}

// Option is a functional option for configuring a Tracker.
type Option func(t *Tracker)

func WithClock(clock quartz.Clock) Option {
	return func(t *Tracker) {
		t.clock = clock
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(t *Tracker) {
		t.logger = logger
	}
}

func WithInterval(d time.Duration) Option {
	return func(t *Tracker) {
		t.interval = d
	}
}

// WithDeviceInfo 设置随每个批次上报的设备信息，TrafficSource 字段在上报时填充。
func WithDeviceInfo(info visit.DeviceInfo) Option {
	return func(t *Tracker) {
		t.device = &info
	}
}

// New 创建 Tracker。
func New(identity *IdentityStore, transport Transport, opts ...Option) *Tracker {
	t := &Tracker{
		identity:  identity,
		transport: transport,
		clock:     quartz.NewReal(),
		logger:    zap.NewNop(),
		interval:  defaultFlushInterval,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.interval <= 0 {
		t.interval = defaultFlushInterval
	}
	return t
}

// LoadPage 对应一次完整的页面加载：流量来源变化时开启新会话并丢弃未上报事件，然后记录该页面。
func (t *Tracker) LoadPage(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse page url: %w", err)
	}

	changed, err := t.identity.ObserveTrafficSource(u.Query())
	if err != nil {
		return err
	}

	var sessionID string
	if changed {
		sessionID, err = t.identity.ForceNewSession()
	} else {
		sessionID, err = t.identity.SessionID()
	}
	if err != nil {
		return err
	}

	t.mu.Lock()
	if changed {
		t.queue = nil
		t.lastPath = ""
	}
	t.sessionID = sessionID
	t.mu.Unlock()

	t.Navigate(fullPath(u))
	return nil
}

// Navigate 记录一次站内跳转，与上一个路径相同则忽略。
func (t *Tracker) Navigate(path string) {
	if path == "" {
		path = "/"
	}
	now := t.clock.Now()

	t.mu.Lock()
	defer t.mu.Unlock()
	if path == t.lastPath {
		return
	}
	t.lastPath = path
	t.queue = append(t.queue, visit.NewEvent(path, now))
}

// Pending 返回尚未上报的事件数。
func (t *Tracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.queue)
}

// SessionID 返回当前使用的会话 ID。
func (t *Tracker) SessionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessionID
}

// Flush 上报当前队列。队列为空时不发请求；队列在发送前被取出，失败的批次不会放回。
func (t *Tracker) Flush(ctx context.Context, reason FlushReason) error {
	t.mu.Lock()
	if len(t.queue) == 0 {
		t.mu.Unlock()
		return nil
	}
	events := t.queue
	t.queue = nil
	sessionID := t.sessionID
	t.mu.Unlock()

	if sessionID == "" {
		id, err := t.identity.SessionID()
		if err != nil {
			t.logger.Warn("dropping batch without session id", zap.String("reason", string(reason)), zap.Error(err))
			return err
		}
		t.mu.Lock()
		if t.sessionID == "" {
			t.sessionID = id
		}
		sessionID = t.sessionID
		t.mu.Unlock()
	}

	batch := Batch{
		SessionID:  sessionID,
		Events:     events,
		Identity:   t.identity.UserIdentity(),
		DeviceInfo: t.deviceInfo(),
	}

	ack, err := t.transport.Send(ctx, batch)
	if err != nil {
		t.logger.Warn("session flush failed, batch dropped",
			zap.String("reason", string(reason)),
			zap.String("session_id", sessionID),
			zap.Int("events", len(events)),
			zap.Error(err),
		)
		return err
	}

	// 上报成功即视为活跃，否则整页刷新时会把仍在浏览的访客判为空闲。
	if err := t.identity.Touch(); err != nil {
		t.logger.Warn("failed to refresh last active time", zap.Error(err))
	}
	t.applyAck(sessionID, ack)
	t.logger.Debug("session flushed",
		zap.String("reason", string(reason)),
		zap.String("session_id", sessionID),
		zap.Int("events", len(events)),
	)
	return nil
}

// applyAck 是处理服务端响应的唯一入口。只有仍在使用被轮换的 ID 时才采用新 ID。
func (t *Tracker) applyAck(sentID string, ack Ack) {
	if ack.SessionIDOverride == "" || ack.SessionIDOverride == sentID {
		return
	}

	t.mu.Lock()
	if t.sessionID != sentID {
		t.mu.Unlock()
		return
	}
	t.sessionID = ack.SessionIDOverride
	t.mu.Unlock()

	if err := t.identity.AdoptSessionID(ack.SessionIDOverride); err != nil {
		t.logger.Warn("failed to persist rotated session id", zap.Error(err))
	}
	t.logger.Info("session rotated by server",
		zap.String("previous_session_id", sentID),
		zap.String("session_id", ack.SessionIDOverride),
	)
}

// Run 每隔 interval 上报一次，ctx 结束时做最后一次上报。
func (t *Tracker) Run(ctx context.Context) {
	ticker := t.clock.NewTicker(t.interval, "tracker", "flush")
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			finalCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), unloadFlushTimeout)
			_ = t.Flush(finalCtx, FlushShutdown)
			cancel()
			return
		case <-ticker.C:
			_ = t.Flush(ctx, FlushInterval)
		}
	}
}

// Hidden 对应页面切到后台。
func (t *Tracker) Hidden(ctx context.Context) error {
	return t.Flush(ctx, FlushVisibility)
}

// Unload 对应页面卸载：使用与调用方取消无关的短超时上下文，保证请求尽量发出。
func (t *Tracker) Unload(ctx context.Context) error {
	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), unloadFlushTimeout)
	defer cancel()
	return t.Flush(flushCtx, FlushUnload)
}

func (t *Tracker) deviceInfo() *visit.DeviceInfo {
	source := t.identity.TrafficSource()
	if t.device == nil && source == "" {
		return nil
	}
	info := visit.DeviceInfo{}
	if t.device != nil {
		info = *t.device
	}
	if source != "" {
		info.TrafficSource = source
	}
	return &info
}

func fullPath(u *url.URL) string {
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return path
}
