package visit

import (
	"fmt"
	"net"
	"strconv"

	"github.com/oschwald/geoip2-golang"
)

// MaxMindLocator 基于本地 GeoLite2-City 数据库解析 IP 所在位置。
type MaxMindLocator struct {
	reader *geoip2.Reader
}

// OpenMaxMind 打开 mmdb 文件。
func OpenMaxMind(path string) (*MaxMindLocator, error) {
	reader, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open geoip database: %w", err)
	}
	return &MaxMindLocator{reader: reader}, nil
}

// Locate 查询 IP 的国家、地区、城市与经纬度，查询失败或无国家信息时返回 false。
func (l *MaxMindLocator) Locate(ip net.IP) (GeoInfo, bool) {
	if l == nil || l.reader == nil {
		return GeoInfo{}, false
	}

	record, err := l.reader.City(ip)
	if err != nil || record == nil {
		return GeoInfo{}, false
	}

	geo := GeoInfo{
		Country:  record.Country.Names["en"],
		City:     record.City.Names["en"],
		Timezone: record.Location.TimeZone,
	}
	if len(record.Subdivisions) > 0 {
		geo.Region = record.Subdivisions[0].Names["en"]
	}
	if record.Location.Latitude != 0 || record.Location.Longitude != 0 {
		geo.Latitude = strconv.FormatFloat(record.Location.Latitude, 'f', 4, 64)
		geo.Longitude = strconv.FormatFloat(record.Location.Longitude, 'f', 4, 64)
	}
	if geo.Country == "" {
		return GeoInfo{}, false
	}
	return geo, true
}

// Close 释放数据库句柄。
func (l *MaxMindLocator) Close() error {
	if l == nil || l.reader == nil {
		return nil
	}
	return l.reader.Close()
}
