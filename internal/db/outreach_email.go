package db

import "time"

// OutreachEmail 记录一封带追踪像素的外联邮件及其打开情况。
type OutreachEmail struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	Token        string     `gorm:"size:36;uniqueIndex;not null" json:"token"`
	ContactName  string     `gorm:"size:120" json:"contactName"`
	ContactEmail string     `gorm:"size:255;not null" json:"contactEmail"`
	Company      string     `gorm:"size:120" json:"company"`
	Subject      string     `gorm:"size:255" json:"subject"`
	OpenCount    uint64     `gorm:"default:0" json:"openCount"`
	LastOpenedAt *time.Time `json:"lastOpenedAt"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// TableName 指定自定义表名。
func (OutreachEmail) TableName() string {
	return "outreach_emails"
}
