package tracker

import (
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/coder/quartz"
	"github.com/foliotrack/internal/visit"
	"github.com/google/uuid"
)

const (
	keySessionID     = "fl_session_id"
	keyLastActive    = "fl_last_active"
	keyTrafficSource = "fl_traffic_source"
	keyUserIdentity  = "fl_identity"
)

// IdentityStore 维护客户端持有的会话 ID、最近活跃时间、流量来源与自报身份。
type IdentityStore struct {
	store  Store
	clock  quartz.Clock
	window time.Duration
	newID  func() string
}

// NewIdentityStore 创建 IdentityStore，clock 为 nil 时使用真实时钟。
func NewIdentityStore(store Store, clock quartz.Clock) *IdentityStore {
	if clock == nil {
		clock = quartz.NewReal()
	}
	return &IdentityStore{
		store:  store,
		clock:  clock,
		window: visit.InactivityWindow,
		newID:  uuid.NewString,
	}
}

// SessionID 返回当前会话 ID；不存在或空闲超过窗口时生成新 ID。每次调用都会刷新最近活跃时间。
func (s *IdentityStore) SessionID() (string, error) {
	now := s.clock.Now()
	id, ok := s.store.Get(keySessionID)
	if !ok || id == "" || s.expired(now) {
		id = s.newID()
		if err := s.store.Set(keySessionID, id); err != nil {
			return "", fmt.Errorf("store session id: %w", err)
		}
	}
	if err := s.touch(now); err != nil {
		return "", err
	}
	return id, nil
}

// ForceNewSession 无条件换用新会话 ID。
func (s *IdentityStore) ForceNewSession() (string, error) {
	id := s.newID()
	if err := s.store.Set(keySessionID, id); err != nil {
		return "", fmt.Errorf("store session id: %w", err)
	}
	if err := s.touch(s.clock.Now()); err != nil {
		return "", err
	}
	return id, nil
}

// AdoptSessionID 采用服务端下发的会话 ID。
func (s *IdentityStore) AdoptSessionID(id string) error {
	if id == "" {
		return nil
	}
	if err := s.store.Set(keySessionID, id); err != nil {
		return fmt.Errorf("store session id: %w", err)
	}
	return s.touch(s.clock.Now())
}

// Touch 刷新最近活跃时间，不改变会话 ID。
func (s *IdentityStore) Touch() error {
	return s.touch(s.clock.Now())
}

// ObserveTrafficSource 记录 query 中的流量来源，与已保存的不同时返回 true。
// query 中没有来源参数时不做任何修改。
func (s *IdentityStore) ObserveTrafficSource(query url.Values) (bool, error) {
	source := visit.DetectTrafficSource(query)
	if source == "" {
		return false, nil
	}
	if previous, ok := s.store.Get(keyTrafficSource); ok && previous == source {
		return false, nil
	}
	if err := s.store.Set(keyTrafficSource, source); err != nil {
		return false, fmt.Errorf("store traffic source: %w", err)
	}
	return true, nil
}

// TrafficSource 返回最近记录的流量来源。
func (s *IdentityStore) TrafficSource() string {
	source, _ := s.store.Get(keyTrafficSource)
	return source
}

// UserIdentity 返回访客自报的身份信息，未设置时为 nil。
func (s *IdentityStore) UserIdentity() visit.Identity {
	raw, ok := s.store.Get(keyUserIdentity)
	if !ok || raw == "" {
		return nil
	}
	var identity visit.Identity
	if err := json.Unmarshal([]byte(raw), &identity); err != nil {
		return nil
	}
	return identity
}

// SetUserIdentity 保存访客身份，传入空值时清除。
func (s *IdentityStore) SetUserIdentity(identity visit.Identity) error {
	if identity.IsEmpty() {
		return s.store.Clear(keyUserIdentity)
	}
	data, err := json.Marshal(identity)
	if err != nil {
		return fmt.Errorf("encode identity: %w", err)
	}
	return s.store.Set(keyUserIdentity, string(data))
}

func (s *IdentityStore) expired(now time.Time) bool {
	raw, ok := s.store.Get(keyLastActive)
	if !ok {
		return false
	}
	last, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return false
	}
	return now.Sub(last) > s.window
}

func (s *IdentityStore) touch(now time.Time) error {
	if err := s.store.Set(keyLastActive, now.UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("store last active: %w", err)
	}
	return nil
}
