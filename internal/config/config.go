package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// 默认的保留上限与空闲窗口。
const (
	DefaultSessionCap        = 1000
	DefaultRequestLogCap     = 10000
	DefaultInactivityMinutes = 30
)

// DefaultSessionSecret 仅供本地开发使用，生产环境必须通过 SESSION_SECRET 覆盖。
const DefaultSessionSecret = "foliotrack-dev-secret"

// AppConfig 汇总运行服务所需的基础配置。
type AppConfig struct {
	ListenAddr        string
	Port              string
	DatabasePath      string
	SessionSecret     string
	GinMode           string
	StaticDir         string
	SiteBaseURL       string
	SuperRootUserName string
	SuperRootPassword string
	SessionCap        int
	RequestLogCap     int
	InactivityWindow  time.Duration
	GeoIPDatabasePath string
	LogLevel          string
	Environment       string
}

// Load 先尝试加载 .env（ENV_FILE 可指定路径），再从环境变量读取应用配置，并为缺失项提供安全的默认值。
// 已存在的环境变量优先于 .env 中的同名项。
func Load() AppConfig {
	envFile := strings.TrimSpace(os.Getenv("ENV_FILE"))
	if envFile == "" {
		envFile = ".env"
	}
	_ = godotenv.Load(envFile)

	port := stringEnv("PORT", "8080")

	return AppConfig{
		ListenAddr:        stringEnv("LISTEN_ADDR", fmt.Sprintf(":%s", port)),
		Port:              port,
		DatabasePath:      stringEnv("DATABASE_PATH", "foliotrack.db"),
		SessionSecret:     stringEnv("SESSION_SECRET", DefaultSessionSecret),
		GinMode:           stringEnv("GIN_MODE", "release"),
		StaticDir:         stringEnv("STATIC_DIR", "web/dist"),
		SiteBaseURL:       strings.TrimRight(stringEnv("SITE_BASE_URL", "http://localhost:"+port), "/"),
		SuperRootUserName: stringEnv("SUPER_ROOT_USER_NAME", ""),
		SuperRootPassword: stringEnv("SUPER_ROOT_PASSWORD", ""),
		SessionCap:        intEnv("SESSION_CAP", DefaultSessionCap),
		RequestLogCap:     intEnv("REQUEST_LOG_CAP", DefaultRequestLogCap),
		InactivityWindow:  time.Duration(intEnv("SESSION_INACTIVITY_MINUTES", DefaultInactivityMinutes)) * time.Minute,
		GeoIPDatabasePath: stringEnv("GEOIP_DB_PATH", ""),
		LogLevel:          stringEnv("LOG_LEVEL", "info"),
		Environment:       stringEnv("APP_ENV", "development"),
	}
}

// InsecureSessionSecret 报告生产环境是否仍在使用默认的后台 cookie 密钥。
func (c AppConfig) InsecureSessionSecret() bool {
	return c.Environment == "production" && c.SessionSecret == DefaultSessionSecret
}

func stringEnv(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

// intEnv 读取正整数，解析失败或非正数时回退默认值。
func intEnv(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}
