// internal/rules/regexcache.go
package rules

import (
	"regexp"
	"sync"

	"github.com/golang/groupcache/lru"
)

/*
 * Bounded cache of compiled regular expressions.
 *
 * Compiled rules carry their own *regexp.Regexp and never touch this cache.
 * It serves direct Compare calls, where the pattern arrives as a plain operand
 * and would otherwise be recompiled on every call.
 *
 * Invalid patterns are cached as nil so repeated failures stay cheap.
 * lru.Cache is not goroutine-safe; one mutex guards it.
 */

// DefaultRegexCacheSize is the number of patterns kept before eviction.
const DefaultRegexCacheSize = 256

type regexCache struct {
	mu    sync.Mutex
	cache *lru.Cache
}

var patterns = &regexCache{cache: lru.New(DefaultRegexCacheSize)}

// SetRegexCacheSize resizes the shared pattern cache. n <= 0 restores the default.
func SetRegexCacheSize(n int) {
	if n <= 0 {
		n = DefaultRegexCacheSize
	}
	patterns.mu.Lock()
	defer patterns.mu.Unlock()
	patterns.cache.MaxEntries = n
	for patterns.cache.Len() > n {
		patterns.cache.RemoveOldest()
	}
}

// lookupRegex returns the compiled pattern, or nil if it does not compile.
func lookupRegex(pattern string) *regexp.Regexp {
	patterns.mu.Lock()
	defer patterns.mu.Unlock()

	if cached, ok := patterns.cache.Get(pattern); ok {
		re, _ := cached.(*regexp.Regexp)
		return re
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		re = nil
	}
	patterns.cache.Add(pattern, re)
	return re
}

// regexCacheLen reports cached pattern count.
func regexCacheLen() int {
	patterns.mu.Lock()
	defer patterns.mu.Unlock()
	return patterns.cache.Len()
}
