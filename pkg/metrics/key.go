package metrics

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrInvalidMetricKey 指标键格式错误
var ErrInvalidMetricKey = errors.New("invalid metric key")

// FormatKey 生成子指标键，如 http_req_duration{class:genes}。标签按键排序。
func FormatKey(name string, tags map[string]string) string {
	if len(tags) == 0 {
		return name
	}
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte(':')
		b.WriteString(tags[k])
	}
	b.WriteByte('}')
	return b.String()
}

// ParseKey 解析指标键，返回父指标名和标签
func ParseKey(key string) (string, map[string]string, error) {
	key = strings.TrimSpace(key)
	open := strings.IndexByte(key, '{')
	if open < 0 {
		if key == "" || strings.ContainsAny(key, "}:, ") {
			return "", nil, fmt.Errorf("%w: %q", ErrInvalidMetricKey, key)
		}
		return key, nil, nil
	}

	name := strings.TrimSpace(key[:open])
	if name == "" || !strings.HasSuffix(key, "}") {
		return "", nil, fmt.Errorf("%w: %q", ErrInvalidMetricKey, key)
	}

	body := key[open+1 : len(key)-1]
	tags := make(map[string]string)
	for _, part := range strings.Split(body, ",") {
		k, v, ok := strings.Cut(part, ":")
		k = strings.TrimSpace(k)
		v = strings.TrimSpace(v)
		if !ok || k == "" || v == "" {
			return "", nil, fmt.Errorf("%w: %q", ErrInvalidMetricKey, key)
		}
		tags[k] = v
	}
	return name, tags, nil
}
