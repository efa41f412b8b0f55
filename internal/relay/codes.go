package relay

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// generateCode builds a human-shareable class code: up to five alphanumeric
// characters taken from the class name, then the current year. Non-ASCII
// names (Cyrillic and others) contribute only their digits, so a generic
// prefix fills the gap. taken reports codes already in use.
func generateCode(name string, year int, taken func(code string) bool) string {
	var prefix strings.Builder
	for _, r := range strings.ToUpper(name) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			prefix.WriteRune(r)
			if prefix.Len() >= 5 {
				break
			}
		}
	}
	for prefix.Len() < 3 {
		prefix.WriteString("CLS"[prefix.Len():3])
	}

	code := fmt.Sprintf("%s%d", prefix.String(), year)
	if !taken(code) {
		return code
	}

	// Collision: swap the tail for random base-36 characters until unique.
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", ""))
	for i := 0; i+3 <= len(suffix); i++ {
		candidate := code[:len(code)-3] + suffix[i:i+3]
		if !taken(candidate) {
			return candidate
		}
	}
	return fmt.Sprintf("C%09d", time.Now().UnixNano()%1e9)
}
