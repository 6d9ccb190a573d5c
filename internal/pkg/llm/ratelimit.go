package llm

import (
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var rateLimitKeywords = []string{
	"rate limit",
	"quota exceeded",
	"too many requests",
	"rate-limited",
	"request rate exceeded",
}

var retryAfterPatterns = []struct {
	re   *regexp.Regexp
	unit time.Duration
}{
	{regexp.MustCompile(`(?i)(?:try again|retry after) in (\d+(?:\.\d+)?)s`), time.Second},
	{regexp.MustCompile(`(?i)(?:try again|retry after) (\d+(?:\.\d+)?)s`), time.Second},
	{regexp.MustCompile(`(?i)(?:try again|retry after) in (\d+)m`), time.Minute},
	{regexp.MustCompile(`(?i)(?:try again|retry after) (\d+)m`), time.Minute},
}

// IsRateLimitError 判断错误是否为补全服务的限流错误（HTTP 429 或错误消息中的限流关键词）
func IsRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.Code == http.StatusTooManyRequests {
		return true
	}

	errMsg := strings.ToLower(err.Error())
	for _, keyword := range rateLimitKeywords {
		if strings.Contains(errMsg, keyword) {
			return true
		}
	}
	return false
}

// RetryAfter 从限流错误消息中解析建议的等待时长，无法解析时返回 0
func RetryAfter(err error) time.Duration {
	if !IsRateLimitError(err) {
		return 0
	}
	errMsg := err.Error()
	for _, p := range retryAfterPatterns {
		matches := p.re.FindStringSubmatch(errMsg)
		if len(matches) < 2 {
			continue
		}
		n, convErr := strconv.ParseFloat(matches[1], 64)
		if convErr != nil {
			continue
		}
		return time.Duration(n * float64(p.unit))
	}
	return 0
}
