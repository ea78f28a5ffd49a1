package visit

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// identityPolicy 清除访客提交内容中的所有 HTML 标签。
var identityPolicy = bluemonday.StrictPolicy()

// Identity 是访客自愿提供的身份信息，例如联系表单中的 name/email/phone。
type Identity map[string]any

// NormalizeIdentity 去掉空值并清洗字符串字段，返回的副本不会与入参共享底层 map。
func NormalizeIdentity(raw Identity) Identity {
	normalized := Identity{}
	for key, value := range raw {
		key = strings.TrimSpace(key)
		if key == "" || value == nil {
			continue
		}
		if text, ok := value.(string); ok {
			text = sanitizeText(text)
			if text == "" {
				continue
			}
			normalized[key] = text
			continue
		}
		normalized[key] = value
	}
	return normalized
}

// sanitizeText 去掉标签后还原实体，存储的是访客输入的原文而不是 HTML 转义后的文本。
func sanitizeText(text string) string {
	return strings.TrimSpace(html.UnescapeString(identityPolicy.Sanitize(text)))
}

// IsEmpty 报告身份信息是否为空对象。
func (i Identity) IsEmpty() bool {
	return len(i) == 0
}

// Name 返回 name 字段。
func (i Identity) Name() string { return i.stringField("name") }

// Email 返回 email 字段。
func (i Identity) Email() string { return i.stringField("email") }

// Phone 返回 phone 字段。
func (i Identity) Phone() string { return i.stringField("phone") }

func (i Identity) stringField(key string) string {
	if i == nil {
		return ""
	}
	if value, ok := i[key].(string); ok {
		return value
	}
	return ""
}
