package ratelimit

import (
	"path"
	"strings"

	"github.com/xmarre/Copperminer/pkg/config"
)

// heavyExts are file types strict hosts throttle much harder than
// ordinary images
var heavyExts = map[string]bool{
	".webm": true,
	".mp4":  true,
	".gif":  true,
}

// Set holds one limiter per resource class
type Set struct {
	Light Limiter
	Heavy Limiter
}

// NewSet builds a limiter pair from configuration
func NewSet(cfg config.RateLimitConfig) *Set {
	return &Set{
		Light: NewAdaptiveLimiter(cfg.Light),
		Heavy: NewAdaptiveLimiter(cfg.Heavy),
	}
}

// ForURL returns the limiter responsible for the given media URL,
// selected by file extension
func (s *Set) ForURL(rawURL string) Limiter {
	trimmed := rawURL
	if i := strings.IndexByte(trimmed, '?'); i >= 0 {
		trimmed = trimmed[:i]
	}
	if heavyExts[strings.ToLower(path.Ext(trimmed))] {
		return s.Heavy
	}
	return s.Light
}

// Reset resets both limiters
func (s *Set) Reset() {
	s.Light.Reset()
	s.Heavy.Reset()
}
