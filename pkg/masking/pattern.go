package masking

import (
	"log/slog"
	"regexp"

	"github.com/pipeforge/runcore/pkg/config"
)

// compiledPattern holds a pre-compiled regex masking rule.
type compiledPattern struct {
	Name        string
	Regex       *regexp.Regexp
	Replacement string
}

// compilePatterns compiles every builtin masking pattern, logging and
// skipping any that fail to compile rather than failing startup.
func compilePatterns(patterns map[string]config.MaskingPatternConfig) map[string]*compiledPattern {
	compiled := make(map[string]*compiledPattern, len(patterns))
	for name, p := range patterns {
		re, err := regexp.Compile(p.Pattern)
		if err != nil {
			slog.Error("masking: failed to compile pattern, skipping", "pattern", name, "error", err)
			continue
		}
		compiled[name] = &compiledPattern{Name: name, Regex: re, Replacement: p.Replacement}
	}
	return compiled
}

// resolveGroup expands a pattern group name into its compiled patterns,
// skipping any member name that didn't compile or doesn't exist.
func resolveGroup(groups map[string][]string, patterns map[string]*compiledPattern, group string) []*compiledPattern {
	names, ok := groups[group]
	if !ok {
		return nil
	}
	resolved := make([]*compiledPattern, 0, len(names))
	for _, name := range names {
		if cp, ok := patterns[name]; ok {
			resolved = append(resolved, cp)
		}
	}
	return resolved
}
