package sqlite

import (
	"database/sql/driver"
	"fmt"
	"regexp"
	"slices"

	lru "github.com/hashicorp/golang-lru/v2"
	msqlite "modernc.org/sqlite"

	"github.com/leapstack-labs/gridsql/pkg/dialects/sqlite"
)

// patternCacheSize bounds the compiled patterns kept across connections.
const patternCacheSize = 1024

var patterns = newPatternCache(patternCacheSize)

func newPatternCache(size int) *lru.Cache[string, *regexp.Regexp] {
	c, err := lru.New[string, *regexp.Regexp](size)
	if err != nil {
		panic(err)
	}
	return c
}

// compile returns the compiled pattern, reusing recently used ones.
func compile(pattern string) (*regexp.Regexp, error) {
	if re, ok := patterns.Get(pattern); ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid regular expression %q: %w", pattern, err)
	}
	patterns.Add(pattern, re)
	return re, nil
}

func text(v driver.Value) (string, bool) {
	switch s := v.(type) {
	case nil:
		return "", false
	case string:
		return s, true
	case []byte:
		return string(s), true
	default:
		return fmt.Sprint(s), true
	}
}

// regexpFunc backs "x REGEXP pattern", which SQLite calls as
// regexp(pattern, x).
func regexpFunc(_ *msqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	pattern, ok1 := text(args[0])
	s, ok2 := text(args[1])
	if !ok1 || !ok2 {
		return nil, nil
	}
	re, err := compile(pattern)
	if err != nil {
		return nil, err
	}
	if re.MatchString(s) {
		return int64(1), nil
	}
	return int64(0), nil
}

// extractFunc returns the first match of pattern in s, or NULL.
func extractFunc(_ *msqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	s, ok1 := text(args[0])
	pattern, ok2 := text(args[1])
	if !ok1 || !ok2 {
		return nil, nil
	}
	re, err := compile(pattern)
	if err != nil {
		return nil, err
	}
	loc := re.FindStringIndex(s)
	if loc == nil {
		return nil, nil
	}
	return s[loc[0]:loc[1]], nil
}

// replaceFunc replaces every match of pattern in s.
func replaceFunc(_ *msqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	s, ok1 := text(args[0])
	pattern, ok2 := text(args[1])
	repl, ok3 := text(args[2])
	if !ok1 || !ok2 || !ok3 {
		return nil, nil
	}
	re, err := compile(pattern)
	if err != nil {
		return nil, err
	}
	return re.ReplaceAllString(s, repl), nil
}

func registerFunctions() error {
	fns := []struct {
		name string
		args int32
		fn   func(*msqlite.FunctionContext, []driver.Value) (driver.Value, error)
	}{
		{"regexp", 2, regexpFunc},
		{sqlite.RegexExtractFunc, 2, extractFunc},
		{sqlite.RegexReplaceFunc, 3, replaceFunc},
	}
	for _, f := range fns {
		if err := msqlite.RegisterDeterministicScalarFunction(f.name, f.args, f.fn); err != nil {
			return fmt.Errorf("failed to register %s: %w", f.name, err)
		}
	}
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
