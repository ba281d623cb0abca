// Package sanitize 清理模型回复中回显的记录格式。
package sanitize

import (
	"regexp"
	"strings"
)

// echoExpr 匹配回复开头回显的记录行前缀
// 形如 "At 2024-01-02 15:04 Gosha said:"（秒可选）。
var echoExpr = regexp.MustCompile(`(?i)^at\s+\d{4}-\d{2}-\d{2}\s+\d{1,2}:\d{2}(?::\d{2})?\s+\S+\s+said:\s*`)

// Clean 去掉回复开头回显的记录行前缀和 "名字:" 标签。
// 两种前缀都反复剥离直到不再变化，因此结果再次清理不变。
// 剥离后为空时返回原始输入。
func Clean(reply, agentName string) string {
	text := strings.TrimSpace(reply)
	if text == "" {
		return reply
	}

	for {
		next := stripOnce(text, agentName)
		if next == text {
			break
		}
		text = next
	}

	if text == "" {
		return reply
	}
	return text
}

func stripOnce(text, agentName string) string {
	if loc := echoExpr.FindStringIndex(text); loc != nil {
		return strings.TrimSpace(text[loc[1]:])
	}
	if agentName != "" {
		for _, label := range []string{agentName + ": ", agentName + ":"} {
			if len(text) >= len(label) && strings.EqualFold(text[:len(label)], label) {
				return strings.TrimSpace(text[len(label):])
			}
		}
	}
	return text
}
