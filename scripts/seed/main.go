package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/coder/quartz"
	"github.com/foliotrack/internal/config"
	"github.com/foliotrack/internal/db"
	"github.com/foliotrack/internal/service"
	"github.com/foliotrack/internal/visit"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// 测试数据生成器
func main() {
	// 初始化数据库
	cfg := config.Load()
	if err := db.Init(cfg.DatabasePath); err != nil {
		log.Fatal("数据库初始化失败:", err)
	}

	fmt.Println("开始生成测试数据...")

	// 创建管理员用户
	if err := db.EnsureUser(db.DB, "admin", "admin123"); err != nil {
		log.Fatal("创建管理员失败:", err)
	}

	summary, err := seedDemoData(context.Background(), db.DB, quartz.NewReal())
	if err != nil {
		log.Fatal("生成测试数据失败:", err)
	}

	fmt.Println("测试数据生成完成！")
	fmt.Println("用户: admin (密码: admin123)")
	fmt.Printf("会话: %d 个\n", summary.Sessions)
	fmt.Printf("外联邮件: %d 封，打开 %d 次\n", summary.Outreach, summary.Opens)
}

type seedSummary struct {
	Sessions int
	Outreach int
	Opens    int
}

type demoVisitor struct {
	identity visit.Identity
	meta     visit.RequestMeta
	pages    []string
	// 距今多久之前开始访问
	ago time.Duration
}

var demoVisitors = []demoVisitor{
	{
		identity: visit.Identity{"name": "Ada", "email": "ada@example.com"},
		meta:     visit.RequestMeta{IP: "203.0.113.7", Browser: "Chrome", OS: "macOS", DeviceType: visit.DeviceDesktop, Geo: visit.GeoInfo{Country: "GB", City: "London"}},
		pages:    []string{"/home", "/projects", "/contact"},
		ago:      5 * time.Minute,
	},
	{
		meta:  visit.RequestMeta{IP: "198.51.100.4", Browser: "Safari", OS: "iOS", DeviceType: visit.DeviceMobile, Geo: visit.GeoInfo{Country: "JP", City: "Tokyo"}},
		pages: []string{"/home", "/blog"},
		ago:   45 * time.Minute,
	},
	{
		meta:  visit.RequestMeta{IP: "192.0.2.10", Browser: "Firefox", OS: "Linux", DeviceType: visit.DeviceDesktop, Geo: visit.GeoInfo{Country: "DE", City: "Berlin"}},
		pages: []string{"/projects"},
	},
}

// 生成演示会话与外联邮件，所有写入都经过正式的服务层。
func seedDemoData(ctx context.Context, gdb *gorm.DB, clock quartz.Clock) (seedSummary, error) {
	var summary seedSummary
	sessions := service.NewSessionService(gdb).WithClock(clock)

	for _, visitor := range demoVisitors {
		id := uuid.NewString()
		start := clock.Now().Add(-visitor.ago)

		events := make([]visit.Event, 0, len(visitor.pages))
		for i, page := range visitor.pages {
			events = append(events, visit.NewEvent(page, start.Add(time.Duration(i)*10*time.Second)))
		}

		if _, err := sessions.RecordBatch(ctx, service.BatchInput{
			SessionID: id,
			Events:    events,
			Identity:  visitor.identity,
		}, visitor.meta); err != nil {
			return summary, err
		}
		summary.Sessions++
	}

	outreach := service.NewOutreachService(gdb).WithClock(clock)
	record, err := outreach.Create(ctx, service.OutreachInput{
		ContactName:  "Grace",
		ContactEmail: "grace@example.com",
		Company:      "Example Corp",
		Subject:      "Portfolio follow-up",
	})
	if err != nil {
		return summary, err
	}
	summary.Outreach++

	if _, err := outreach.RecordOpen(ctx, record.Token, visit.RequestMeta{IP: "192.0.2.55", DeviceType: visit.DeviceDesktop}); err != nil {
		return summary, err
	}
	summary.Opens++
	summary.Sessions++

	return summary, nil
}
