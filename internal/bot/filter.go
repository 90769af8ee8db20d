package bot

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// FilterConfig holds the relevance rules for one process run. The zero
// value accepts every title.
type FilterConfig struct {
	TargetKeywords  []string
	ExcludeKeywords []string
	MinYears        int
}

// Years-of-experience patterns, tried in order. The range pattern must run
// before the bare pattern so "7-10 years" yields 7, not 10.
var (
	yearsPlusPattern  = regexp.MustCompile(`(\d+)\+\s*(?:years|yrs|yr)`)
	yearsRangePattern = regexp.MustCompile(`(\d+)\s*-\s*\d+\s*(?:years|yrs|yr)`)
	yearsBarePattern  = regexp.MustCompile(`(\d+)\s*(?:years|yrs|yr)`)
)

// Relevant reports whether title passes the exclusion, target-keyword and
// minimum-experience rules. Pure function of its inputs.
func (f FilterConfig) Relevant(title string) bool {
	ok, _ := f.Explain(title)
	return ok
}

// Explain applies the same rules as Relevant and names the rule that
// rejected the title, for outcome reporting.
func (f FilterConfig) Explain(title string) (bool, string) {
	lower := strings.ToLower(title)

	// Exclusion wins over inclusion.
	for _, kw := range f.ExcludeKeywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" && strings.Contains(lower, kw) {
			return false, fmt.Sprintf("excluded keyword %q", kw)
		}
	}

	// An empty target list accepts every title.
	if len(f.TargetKeywords) > 0 {
		matched := false
		for _, kw := range f.TargetKeywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw != "" && strings.Contains(lower, kw) {
				matched = true
				break
			}
		}
		if !matched {
			return false, "no target keyword match"
		}
	}

	if f.MinYears > 0 {
		if years := ExtractYears(title); years > 0 && years < f.MinYears {
			return false, fmt.Sprintf("%d years below minimum %d", years, f.MinYears)
		}
	}

	return true, ""
}

// ExtractYears pulls a years-of-experience requirement out of a title.
// It returns 0 when no pattern matches; a 0 result never rejects a title.
func ExtractYears(title string) int {
	lower := strings.ToLower(title)
	for _, p := range []*regexp.Regexp{yearsPlusPattern, yearsRangePattern, yearsBarePattern} {
		m := p.FindStringSubmatch(lower)
		if m == nil {
			continue
		}
		years, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		return years
	}
	return 0
}
