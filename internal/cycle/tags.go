// Package cycle holds the rules shared by the webhook and batch paths:
// subscription keys, cycle position and the app-owned order tags.
package cycle

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	GiftTag    = "Monthly-Free-Gift"
	OneTimeTag = "One-Time"
)

// cycleTagPattern matches both shapes of the app-owned cycle tag.
var cycleTagPattern = regexp.MustCompile(`(?i)^Monthly-(Free-Gift|order-\d+-no-Gifts)$`)

// Tag returns the cycle tag for a 1-based cycle.
func Tag(cycle int) string {
	if cycle == 1 {
		return GiftTag
	}
	return fmt.Sprintf("Monthly-order-%d-no-Gifts", cycle)
}

func IsCycleTag(tag string) bool {
	return cycleTagPattern.MatchString(strings.TrimSpace(tag))
}

// ReconcileTags drops every cycle tag from current and appends derived.
// Surviving tags keep their order and are deduplicated.
func ReconcileTags(current []string, derived string) []string {
	kept := make([]string, 0, len(current))
	for _, t := range current {
		if IsCycleTag(t) {
			continue
		}
		kept = append(kept, t)
	}
	return MergeTags(kept, derived)
}

// MergeTags adds tag to current without touching other tags.
func MergeTags(current []string, tag string) []string {
	seen := make(map[string]struct{}, len(current)+1)
	out := make([]string, 0, len(current)+1)
	add := func(t string) {
		t = strings.TrimSpace(t)
		if t == "" {
			return
		}
		if _, ok := seen[t]; ok {
			return
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	for _, t := range current {
		add(t)
	}
	add(tag)
	return out
}

// CycleTags returns the cycle tags present in tags.
func CycleTags(tags []string) []string {
	var out []string
	for _, t := range tags {
		if IsCycleTag(t) {
			out = append(out, t)
		}
	}
	return out
}
