package visit

import (
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/mileusna/useragent"
)

// DefaultIPAddress 为缺少转发头时使用的回环地址。
const DefaultIPAddress = "127.0.0.1"

// 设备类型取值。
const (
	DeviceDesktop = "desktop"
	DeviceMobile  = "mobile"
	DeviceTablet  = "tablet"
	DeviceBot     = "bot"
)

// DeviceInfo 合并客户端上报的设备元数据与服务端解析出的 UA 信息。
type DeviceInfo struct {
	UserAgent     string `json:"userAgent,omitempty"`
	Screen        string `json:"screen,omitempty"`
	Language      string `json:"language,omitempty"`
	TrafficSource string `json:"trafficSource,omitempty"`
	Browser       string `json:"browser,omitempty"`
	OS            string `json:"os,omitempty"`
	DeviceType    string `json:"deviceType,omitempty"`
}

// GeoInfo 为边缘节点请求头（或 GeoIP 数据库）推导出的地理位置快照。
type GeoInfo struct {
	Country   string `json:"country,omitempty"`
	Region    string `json:"region,omitempty"`
	City      string `json:"city,omitempty"`
	Timezone  string `json:"timezone,omitempty"`
	ISP       string `json:"isp,omitempty"`
	Latitude  string `json:"latitude,omitempty"`
	Longitude string `json:"longitude,omitempty"`
}

// IsZero 报告是否没有任何地理信息。
func (g GeoInfo) IsZero() bool {
	return g == GeoInfo{}
}

// RequestMeta 汇总单个请求上可获取的来源信息。
type RequestMeta struct {
	IP         string
	UserAgent  string
	Browser    string
	OS         string
	DeviceType string
	Geo        GeoInfo
}

// DeviceSnapshot 以服务端解析结果为准，补齐客户端上报的屏幕、语言与来源信息。
func (m RequestMeta) DeviceSnapshot(client *DeviceInfo) DeviceInfo {
	snapshot := DeviceInfo{
		UserAgent:  m.UserAgent,
		Browser:    m.Browser,
		OS:         m.OS,
		DeviceType: m.DeviceType,
	}
	if client == nil {
		return snapshot
	}

	snapshot.Screen = strings.TrimSpace(client.Screen)
	snapshot.Language = strings.TrimSpace(client.Language)
	snapshot.TrafficSource = strings.TrimSpace(client.TrafficSource)

	if snapshot.UserAgent == "" && strings.TrimSpace(client.UserAgent) != "" {
		parsed := ParseUserAgent(client.UserAgent)
		snapshot.UserAgent = parsed.UserAgent
		snapshot.Browser = parsed.Browser
		snapshot.OS = parsed.OS
		snapshot.DeviceType = parsed.DeviceType
	}
	if snapshot.DeviceType == "" {
		snapshot.DeviceType = DeviceDesktop
	}
	return snapshot
}

// GeoLocator 在缺少边缘地理头时按 IP 查询位置。
type GeoLocator interface {
	Locate(ip net.IP) (GeoInfo, bool)
}

// MetaExtractor 从 HTTP 请求中提取来源 IP、地理位置与 UA 信息。
type MetaExtractor struct {
	locator GeoLocator
}

// NewMetaExtractor 创建 MetaExtractor，locator 可为 nil。
func NewMetaExtractor(locator GeoLocator) *MetaExtractor {
	return &MetaExtractor{locator: locator}
}

// FromRequest 解析请求来源信息。
func (x *MetaExtractor) FromRequest(r *http.Request) RequestMeta {
	meta := ParseUserAgent(r.UserAgent())
	meta.IP = ClientIP(r.Header)
	meta.Geo = GeoFromHeaders(r.Header)

	if meta.Geo.Country == "" && x != nil && x.locator != nil {
		if ip := net.ParseIP(meta.IP); ip != nil && !ip.IsLoopback() && !ip.IsPrivate() {
			if located, ok := x.locator.Locate(ip); ok {
				if meta.Geo.ISP != "" && located.ISP == "" {
					located.ISP = meta.Geo.ISP
				}
				meta.Geo = located
			}
		}
	}

	return meta
}

// ClientIP 取 X-Forwarded-For 的第一个地址，其次 X-Real-IP，均缺失时返回回环地址。
func ClientIP(header http.Header) string {
	if forwarded := header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if realIP := strings.TrimSpace(header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	return DefaultIPAddress
}

// GeoFromHeaders 读取 Vercel / Cloudflare 风格的地理位置请求头。
func GeoFromHeaders(header http.Header) GeoInfo {
	return GeoInfo{
		Country:   firstHeader(header, "X-Vercel-IP-Country", "CF-IPCountry", "X-Country"),
		Region:    firstHeader(header, "X-Vercel-IP-Country-Region", "X-Region"),
		City:      unescapeHeader(firstHeader(header, "X-Vercel-IP-City", "X-City")),
		Timezone:  firstHeader(header, "X-Vercel-IP-Timezone", "CF-Timezone", "X-Timezone"),
		ISP:       firstHeader(header, "X-Client-ISP", "X-Vercel-IP-Org", "X-ISP"),
		Latitude:  firstHeader(header, "X-Vercel-IP-Latitude", "CF-IPLatitude"),
		Longitude: firstHeader(header, "X-Vercel-IP-Longitude", "CF-IPLongitude"),
	}
}

// ParseUserAgent 解析 UA，设备类型无法判断时回退为 desktop。
func ParseUserAgent(raw string) RequestMeta {
	raw = strings.TrimSpace(raw)
	meta := RequestMeta{UserAgent: raw, DeviceType: DeviceDesktop}
	if raw == "" {
		return meta
	}

	ua := useragent.Parse(raw)
	meta.Browser = ua.Name
	meta.OS = ua.OS

	switch {
	case ua.Bot:
		meta.DeviceType = DeviceBot
	case ua.Tablet:
		meta.DeviceType = DeviceTablet
	case ua.Mobile:
		meta.DeviceType = DeviceMobile
	}
	return meta
}

func firstHeader(header http.Header, keys ...string) string {
	for _, key := range keys {
		if value := strings.TrimSpace(header.Get(key)); value != "" {
			return value
		}
	}
	return ""
}

func unescapeHeader(value string) string {
	if value == "" {
		return ""
	}
	decoded, err := url.QueryUnescape(value)
	if err != nil {
		return value
	}
	return decoded
}
