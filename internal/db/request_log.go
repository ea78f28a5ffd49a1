package db

import (
	"time"

	"github.com/foliotrack/internal/visit"
	"gorm.io/datatypes"
)

// RequestLog 为逐请求的审计日志，与 VisitorSession 无外键关系。
// SessionID 沿用历史约定，存放的是请求来源 IP。
type RequestLog struct {
	ID              uint                               `gorm:"primaryKey" json:"id"`
	Method          string                             `gorm:"size:10" json:"method"`
	URI             string                             `gorm:"size:2048" json:"uri"`
	UserAgent       string                             `gorm:"size:512" json:"userAgent"`
	IPAddress       string                             `gorm:"size:64" json:"ipAddress"`
	Country         string                             `gorm:"size:100" json:"country"`
	Region          string                             `gorm:"size:100" json:"region"`
	City            string                             `gorm:"size:100" json:"city"`
	Timezone        string                             `gorm:"size:64" json:"timezone"`
	ISP             string                             `gorm:"size:120" json:"isp"`
	DeviceType      string                             `gorm:"size:20" json:"deviceType"`
	BrowserName     string                             `gorm:"size:100" json:"browserName"`
	OperatingSystem string                             `gorm:"size:100" json:"operatingSystem"`
	SessionID       string                             `gorm:"size:64;index" json:"sessionId"`
	UserIdentity    datatypes.JSONType[visit.Identity] `json:"userIdentity"`
	UserEmail       string                             `gorm:"size:255" json:"userEmail"`
	CreatedAt       time.Time                          `gorm:"index" json:"createdAt"`
}

// TableName 指定自定义表名。
func (RequestLog) TableName() string {
	return "request_log"
}
