package scripting

import (
	"fmt"
	"regexp"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MaxPatternLength bounds author supplied patterns
const MaxPatternLength = 1000

type compiledPattern struct {
	re  *regexp.Regexp
	err error
}

// RegexCache keeps compiled patterns, including the compile error for invalid ones
type RegexCache struct {
	cache *gocache.Cache
}

// NewRegexCache creates a cache whose entries expire after ttl of disuse
func NewRegexCache(ttl time.Duration) *RegexCache {
	return &RegexCache{
		cache: gocache.New(ttl, 10*time.Minute),
	}
}

var defaultRegexCache = NewRegexCache(30 * time.Minute)

// Compile returns the compiled pattern, optionally case-insensitive
func (c *RegexCache) Compile(pattern string, caseInsensitive bool) (*regexp.Regexp, error) {
	key := "s:" + pattern
	if caseInsensitive {
		key = "i:" + pattern
	}
	if entry, found := c.cache.Get(key); found {
		cp := entry.(compiledPattern)
		if cp.err == nil {
			c.cache.SetDefault(key, cp)
		}
		return cp.re, cp.err
	}

	cp := compile(pattern, caseInsensitive)
	c.cache.SetDefault(key, cp)
	return cp.re, cp.err
}

// Len returns the number of cached patterns
func (c *RegexCache) Len() int {
	return c.cache.ItemCount()
}

// Flush drops every cached pattern
func (c *RegexCache) Flush() {
	c.cache.Flush()
}

func compile(pattern string, caseInsensitive bool) compiledPattern {
	if len(pattern) > MaxPatternLength {
		return compiledPattern{err: fmt.Errorf("regex pattern too long (max %d chars): %d chars", MaxPatternLength, len(pattern))}
	}
	source := pattern
	if caseInsensitive {
		source = "(?i)" + pattern
	}
	re, err := regexp.Compile(source)
	if err != nil {
		return compiledPattern{err: fmt.Errorf("invalid regex pattern '%s': %w", pattern, err)}
	}
	return compiledPattern{re: re}
}

// CompilePattern compiles pattern through the shared cache
func CompilePattern(pattern string, caseInsensitive bool) (*regexp.Regexp, error) {
	return defaultRegexCache.Compile(pattern, caseInsensitive)
}
