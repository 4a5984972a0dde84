package push

import "strings"

// WildcardMatch 发件人号码通配匹配
// 支持五种形态:单独 "*"(或空模式)匹配所有、精确匹配、前缀 "pattern*"、
// 后缀 "*pattern"、单个内嵌通配 "pre*post";其余 "*" 摆放方式一律按字面字符处理
func WildcardMatch(pattern, s string) bool {
	if pattern == "" || pattern == "*" {
		return true
	}

	starCount := strings.Count(pattern, "*")
	if starCount == 0 {
		return pattern == s
	}

	if starCount == 1 {
		switch {
		case strings.HasSuffix(pattern, "*"):
			return strings.HasPrefix(s, pattern[:len(pattern)-1])
		case strings.HasPrefix(pattern, "*"):
			return strings.HasSuffix(s, pattern[1:])
		default:
			prefix, suffix, _ := strings.Cut(pattern, "*")
			return len(s) >= len(prefix)+len(suffix) &&
				strings.HasPrefix(s, prefix) &&
				strings.HasSuffix(s, suffix)
		}
	}

	// 多个 * 不构成通配语法,按字面比较
	return pattern == s
}

// KeywordMatch 关键字匹配
// keywordList 为逗号分隔的关键字,内容命中任意一个即匹配;
// 列表为空(或只含空项)时匹配任意内容
func KeywordMatch(keywordList, content string) bool {
	keywords := splitKeywords(keywordList)
	if len(keywords) == 0 {
		return true
	}

	for _, keyword := range keywords {
		if strings.Contains(content, keyword) {
			return true
		}
	}
	return false
}

// splitKeywords 拆分关键字列表,剔除空白项
func splitKeywords(keywordList string) []string {
	var keywords []string
	for _, part := range strings.Split(keywordList, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			keywords = append(keywords, trimmed)
		}
	}
	return keywords
}
