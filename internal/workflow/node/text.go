package node

import (
	"strings"
	"unicode/utf8"
)

// TruncateByRunes 保留前 maxRunes 个字符
func TruncateByRunes(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	n := 0
	for i := range s {
		if n == maxRunes {
			return s[:i]
		}
		n++
	}
	return s
}

// TailByRunes 保留末尾 maxRunes 个字符
func TailByRunes(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	total := utf8.RuneCountInString(s)
	if total <= maxRunes {
		return s
	}
	skip := total - maxRunes
	n := 0
	for i := range s {
		if n == skip {
			return s[i:]
		}
		n++
	}
	return ""
}

// CleanModuleContent 去掉模型偶尔输出的整体代码块围栏与首尾空白
func CleanModuleContent(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```markdown") || strings.HasPrefix(s, "```md") {
		s = stripCodeFence(s)
	}
	return s
}
