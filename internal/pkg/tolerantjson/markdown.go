package tolerantjson

import (
	"regexp"
	"strings"
)

var (
	secondLevelHeadingRe = regexp.MustCompile(`(?m)^\s{0,3}##\s+\S`)
	headingRe            = regexp.MustCompile(`^\s{0,3}(#{1,6})\s+(.+?)\s*#*\s*$`)
	bulletRe             = regexp.MustCompile(`^\s*(?:[-*+•]|\d+[.)])\s+(.+)$`)
	findingsHeadingRe    = regexp.MustCompile(`(?i)finding`)
	concernsHeadingRe    = regexp.MustCompile(`(?i)abnormal|concern`)
)

// looksLikeMarkdown 以标题开头或包含二级标题的文本视为 Markdown
func looksLikeMarkdown(s string) bool {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "#") {
		return true
	}
	return secondLevelHeadingRe.MatchString(s)
}

type mdSection struct {
	heading string
	text    []string
	bullets []string
}

func splitSections(s string) (title string, sections []*mdSection) {
	current := &mdSection{}
	sections = append(sections, current)

	for _, line := range strings.Split(s, "\n") {
		if m := headingRe.FindStringSubmatch(line); m != nil {
			heading := cleanInline(m[2])
			if title == "" {
				title = heading
			}
			current = &mdSection{heading: heading}
			sections = append(sections, current)
			continue
		}
		if m := bulletRe.FindStringSubmatch(line); m != nil {
			current.bullets = append(current.bullets, cleanInline(m[1]))
			continue
		}
		if t := strings.TrimSpace(line); t != "" {
			current.text = append(current.text, cleanInline(t))
		}
	}
	return title, sections
}

// cleanInline 去掉常见的行内强调标记
func cleanInline(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "**", "")
	s = strings.ReplaceAll(s, "__", "")
	return strings.Trim(s, "*_` :")
}

// synthesizeMarkdown 从 Markdown 文本合成最小对象：
// 第一个标题作为标题字段，findings 段落和要点作为发现字段，
// abnormalities/concerns 标题下的要点作为关注字段。
func synthesizeMarkdown(s string, opts Options) map[string]any {
	fields := opts.Markdown
	title, sections := splitSections(s)

	var findingsText []string
	var findingsBullets []string
	var concerns []string
	var otherBullets []string
	foundFindings := false

	for _, sec := range sections {
		switch {
		case sec.heading != "" && concernsHeadingRe.MatchString(sec.heading):
			concerns = append(concerns, sec.bullets...)
		case sec.heading != "" && findingsHeadingRe.MatchString(sec.heading):
			foundFindings = true
			findingsText = append(findingsText, sec.text...)
			findingsBullets = append(findingsBullets, sec.bullets...)
		default:
			otherBullets = append(otherBullets, sec.bullets...)
		}
	}

	bullets := findingsBullets
	if !foundFindings {
		bullets = otherBullets
	}
	if bullets == nil {
		bullets = []string{}
	}
	if concerns == nil {
		concerns = []string{}
	}

	obj := make(map[string]any)
	if fields.Title != "" && title != "" {
		obj[fields.Title] = title
	}
	if fields.Findings != "" && len(findingsText) > 0 {
		obj[fields.Findings] = strings.Join(findingsText, " ")
	}
	if fields.Bullets != "" {
		obj[fields.Bullets] = toAnySlice(bullets)
	}
	if fields.Concerns != "" {
		obj[fields.Concerns] = toAnySlice(concerns)
	}

	limit := opts.MaxRawLen
	if limit <= 0 {
		limit = DefaultMaxRawLen
	}
	digest := map[string]any{
		"source":   "markdown",
		"raw_text": Truncate(strings.TrimSpace(s), limit),
	}
	if title != "" {
		digest["summary"] = title
	}
	digestField := fields.Digest
	if digestField == "" {
		digestField = "raw_digest"
	}
	obj[digestField] = digest
	return obj
}

func toAnySlice(items []string) []any {
	out := make([]any, 0, len(items))
	for _, it := range items {
		out = append(out, it)
	}
	return out
}
