package text

import "regexp"

type rewrite struct {
	pattern *regexp.Regexp
	repl    string
}

// 顺序有意义：先删代码块，再处理加粗，最后处理斜体
var markdownRewrites = []rewrite{
	{regexp.MustCompile("```[\\s\\S]*?```"), ""},
	{regexp.MustCompile(`(?m)^#{1,6}\s+(.+)$`), "$1"},
	{regexp.MustCompile(`\*\*([^\n*]+)\*\*`), "$1"},
	{regexp.MustCompile(`__([^\n_]+)__`), "$1"},
	{regexp.MustCompile(`~~([^\n~]+)~~`), "$1"},
	{regexp.MustCompile(`\*([^\n*]+)\*`), "$1"},
	{regexp.MustCompile("`([^`\n]+)`"), "$1"},
	{regexp.MustCompile(`!\[([^\]]*)\]\([^)]+\)`), "$1"},
	{regexp.MustCompile(`\[([^\]]+)\]\([^)]+\)`), "$1"},
	{regexp.MustCompile(`<[^>]+>`), ""},
	{regexp.MustCompile(`(?m)^\s*>\s*`), ""},
	{regexp.MustCompile(`(?m)^\s*([*\-+]|\d+\.)\s+`), ""},
	{regexp.MustCompile(`(?m)^\s*[-*_]{3,}\s*$`), ""},
	{regexp.MustCompile(`\n{3,}`), "\n\n"},
}

// StripMarkdown 去掉 Markdown 标记，只保留朗读需要的文字
func StripMarkdown(s string) string {
	for _, rw := range markdownRewrites {
		s = rw.pattern.ReplaceAllString(s, rw.repl)
	}
	return s
}
