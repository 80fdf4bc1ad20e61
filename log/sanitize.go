package log

import (
	"fmt"
	"regexp"
	"strings"
)

// 常见模型服务商的密钥前缀
const keyPrefixPattern = `(?:sk-|sk_|pk_|AIza|claude-|xai-|hf_|gsk_|nv-api-|qwen-|pplx-|key-|secret-|Bearer)`

var (
	// 请求头中的 Bearer token
	bearerRe = regexp.MustCompile(`(?i)\b(bearer)\s+[A-Za-z0-9._~+/=-]{8,}`)
	// 图片 data URL，只保留类型与长度
	dataURLRe = regexp.MustCompile(`data:([a-z]+/[a-z0-9.+-]+);base64,([A-Za-z0-9+/=]+)`)
	// 密钥或网址
	secretRe = regexp.MustCompile(`\b(` + keyPrefixPattern + `)[A-Za-z0-9-_]{8,}\b|(https?://|www\.)[^/\s]+(/\S*)?`)
)

// SanitizeSensitiveInfo 脱敏 API 密钥、Bearer token、网址主机名与图片数据
// 密钥保留前缀，如 sk-***；网址保留协议与路径，如 https://***/v1/responses
func SanitizeSensitiveInfo(text string) string {
	if text == "" {
		return ""
	}

	text = dataURLRe.ReplaceAllStringFunc(text, func(match string) string {
		sub := dataURLRe.FindStringSubmatch(match)
		return fmt.Sprintf("data:%s;base64,***(%d chars)", sub[1], len(sub[2]))
	})
	text = bearerRe.ReplaceAllString(text, "$1 ***")

	result := secretRe.ReplaceAllStringFunc(text, func(match string) string {
		sub := secretRe.FindStringSubmatch(match)
		if len(sub) == 0 {
			return match
		}
		if sub[1] != "" {
			return sub[1] + "***"
		}
		if sub[3] != "" {
			return sub[2] + "***" + sub[3]
		}
		return sub[2] + "***"
	})

	return strings.TrimSpace(result)
}
