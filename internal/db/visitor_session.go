package db

import (
	"time"

	"github.com/foliotrack/internal/visit"
	"gorm.io/datatypes"
)

// VisitorSession 记录一个浏览器会话的访问轨迹。
// session_id 为唯一主键；visit_history 按 (path, timestamp) 去重后追加；
// device_info / geo_info 每次写入整体覆盖，不保留历史。
type VisitorSession struct {
	SessionID       string                               `gorm:"primaryKey;size:36;column:session_id" json:"sessionId"`
	IPAddress       string                               `gorm:"size:64" json:"ipAddress"`
	UserIdentity    datatypes.JSONType[visit.Identity]   `json:"userIdentity"`
	VisitHistory    datatypes.JSONType[visit.History]    `json:"visitHistory"`
	DeviceInfo      datatypes.JSONType[visit.DeviceInfo] `json:"deviceInfo"`
	GeoInfo         datatypes.JSONType[visit.GeoInfo]    `json:"geoInfo"`
	LastActiveAt    time.Time                            `gorm:"index;not null" json:"lastActiveAt"`
	BrowserName     string                               `gorm:"size:100" json:"browserName"`
	OperatingSystem string                               `gorm:"size:100" json:"operatingSystem"`
	DeviceType      string                               `gorm:"size:20;index" json:"deviceType"`
	CountryName     string                               `gorm:"size:100;index" json:"countryName"`
	CityName        string                               `gorm:"size:100" json:"cityName"`
	UserName        string                               `gorm:"size:120" json:"userName"`
	UserEmail       string                               `gorm:"size:255;index" json:"userEmail"`
	UserPhone       string                               `gorm:"size:60" json:"userPhone"`
	StartedAt       time.Time                            `gorm:"not null" json:"startedAt"`
}

// TableName 指定自定义表名。
func (VisitorSession) TableName() string {
	return "sessions"
}

// History 返回访问记录，未写入时为空切片。
func (s *VisitorSession) History() visit.History {
	history := s.VisitHistory.Data()
	if history == nil {
		return visit.History{}
	}
	return history
}

// Identity 返回访客身份信息，未写入时为空对象。
func (s *VisitorSession) Identity() visit.Identity {
	identity := s.UserIdentity.Data()
	if identity == nil {
		return visit.Identity{}
	}
	return identity
}

// SetIdentity 写入身份信息并同步冗余的 name/email/phone 列。
func (s *VisitorSession) SetIdentity(identity visit.Identity) {
	if identity == nil {
		identity = visit.Identity{}
	}
	s.UserIdentity = datatypes.NewJSONType(identity)
	s.UserName = identity.Name()
	s.UserEmail = identity.Email()
	s.UserPhone = identity.Phone()
}

// SetSnapshot 覆盖设备与地理位置快照，并同步冗余列。
func (s *VisitorSession) SetSnapshot(device visit.DeviceInfo, geo visit.GeoInfo) {
	s.DeviceInfo = datatypes.NewJSONType(device)
	s.GeoInfo = datatypes.NewJSONType(geo)
	s.BrowserName = device.Browser
	s.OperatingSystem = device.OS
	s.DeviceType = device.DeviceType
	s.CountryName = geo.Country
	s.CityName = geo.City
}
