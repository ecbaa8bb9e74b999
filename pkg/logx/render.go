package logx

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"
)

const (
	sendTimeout   = 10 * time.Second
	maxMessageLen = 3500
	maxValueLen   = 600
)

// leadKeys are shown first, in this order, so a chat reader sees which channel failed.
var leadKeys = []string{"comp", "channel", "channel_id", "err"}

// renderEvent turns a JSON log line into a short plain-text chat message.
func renderEvent(p []byte) string {
	var m map[string]any
	if err := json.Unmarshal(p, &m); err != nil {
		return clip(strings.TrimSpace(string(p)), maxMessageLen)
	}

	var b strings.Builder
	if lvl, _ := m["level"].(string); lvl != "" {
		fmt.Fprintf(&b, "[%s] ", strings.ToUpper(lvl))
	}
	msg, _ := m["message"].(string)
	b.WriteString(msg)
	delete(m, "time")
	delete(m, "level")
	delete(m, "message")

	write := func(k string) {
		fmt.Fprintf(&b, "\n%s: %s", k, clip(fmt.Sprint(m[k]), maxValueLen))
		delete(m, k)
	}
	for _, k := range leadKeys {
		if _, ok := m[k]; ok {
			write(k)
		}
	}
	rest := make([]string, 0, len(m))
	for k := range m {
		rest = append(rest, k)
	}
	slices.Sort(rest)
	for _, k := range rest {
		write(k)
	}
	return clip(b.String(), maxMessageLen)
}

func clip(s string, n int) string {
	switch {
	case n <= 0 || len(s) <= n:
		return s
	case n < 10:
		return s[:n]
	}
	return s[:n-3] + "..."
}
