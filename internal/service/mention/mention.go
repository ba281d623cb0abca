// Package mention 负责识别消息文本中的 @提及并将其改写为完整名字。
package mention

import (
	"regexp"
	"strings"
	"unicode"
)

// Resolver 提及解析器
// 名字列表的顺序即配置顺序，歧义前缀按该顺序裁决。
type Resolver struct {
	names     []string
	wordExprs []*regexp.Regexp
}

// NewResolver 创建提及解析器
func NewResolver(names []string) *Resolver {
	r := &Resolver{names: append([]string(nil), names...)}
	for _, name := range r.names {
		r.wordExprs = append(r.wordExprs, regexp.MustCompile(`(?i)\b`+regexp.QuoteMeta(name)+`\b`))
	}
	return r
}

// Names 返回配置顺序的名字列表
func (r *Resolver) Names() []string {
	return append([]string(nil), r.names...)
}

// Resolve 扫描文本中的 @提及，返回改写后的文本和被提及的名字。
// @ 后允许至多一个空白字符，然后按配置顺序取第一个
// 至少匹配一个字符的名字，消费其最长的大小写不敏感前缀。
// 返回的名字按首次出现顺序去重。
func (r *Resolver) Resolve(text string) (string, []string) {
	if !strings.ContainsRune(text, '@') {
		return text, nil
	}

	var out strings.Builder
	var mentioned []string
	seen := make(map[string]bool)
	runes := []rune(text)

	for i := 0; i < len(runes); {
		if runes[i] != '@' {
			out.WriteRune(runes[i])
			i++
			continue
		}

		// @ 后至多跳过一个空白
		j := i + 1
		if j < len(runes) && unicode.IsSpace(runes[j]) {
			j++
		}

		name, consumed := r.matchName(runes[j:])
		if consumed == 0 {
			out.WriteRune('@')
			i++
			continue
		}

		out.WriteString(name)
		if !seen[name] {
			seen[name] = true
			mentioned = append(mentioned, name)
		}
		i = j + consumed
	}

	return out.String(), mentioned
}

// matchName 按配置顺序找第一个至少匹配一个字符的名字，
// 返回该名字和它在输入中消费的最长前缀长度。
func (r *Resolver) matchName(rest []rune) (string, int) {
	for _, name := range r.names {
		nameRunes := []rune(name)
		n := 0
		for n < len(nameRunes) && n < len(rest) &&
			unicode.ToLower(rest[n]) == unicode.ToLower(nameRunes[n]) {
			n++
		}
		if n > 0 {
			return name, n
		}
	}
	return "", 0
}

// NamedAsWord 返回在文本中以完整单词出现的名字（配置顺序）。
// 用于代理回复中不带 @ 的点名。
func (r *Resolver) NamedAsWord(text string) []string {
	var named []string
	for i, expr := range r.wordExprs {
		if expr.MatchString(text) {
			named = append(named, r.names[i])
		}
	}
	return named
}
