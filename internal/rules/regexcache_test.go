package rules

import (
	"fmt"
	"testing"

	"github.com/solatis/badgekeeper/internal/types"
)

func TestRegexCache_Bounded(t *testing.T) {
	SetRegexCacheSize(4)
	defer SetRegexCacheSize(DefaultRegexCacheSize)

	for i := 0; i < 10; i++ {
		Compare(types.OpRegex, types.String("x"), types.String(fmt.Sprintf("^p%d", i)))
	}
	if n := regexCacheLen(); n > 4 {
		t.Errorf("regexCacheLen() = %d, want <= 4", n)
	}
}

func TestRegexCache_InvalidPatternCached(t *testing.T) {
	if re := lookupRegex("[unclosed"); re != nil {
		t.Errorf("lookupRegex(invalid) = %v, want nil", re)
	}
	if re := lookupRegex("[unclosed"); re != nil {
		t.Errorf("lookupRegex(invalid) second call = %v, want nil", re)
	}
	if re := lookupRegex("^ok$"); re == nil || !re.MatchString("ok") {
		t.Errorf("lookupRegex(valid) = %v, want compiled pattern", re)
	}
}

func TestSetRegexCacheSize_ShrinkEvicts(t *testing.T) {
	SetRegexCacheSize(16)
	defer SetRegexCacheSize(DefaultRegexCacheSize)

	for i := 0; i < 16; i++ {
		lookupRegex(fmt.Sprintf("^s%d", i))
	}
	SetRegexCacheSize(2)
	if n := regexCacheLen(); n > 2 {
		t.Errorf("regexCacheLen() after shrink = %d, want <= 2", n)
	}
}
