package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// maxLevenshteinDistance is the maximum edit distance for "did you mean?"
// suggestions when unknown config keys are detected.
const maxLevenshteinDistance = 3

// knownSectionKeys maps each global section to its valid keys.
var knownSectionKeys = map[string]map[string]bool{
	"watch": {
		"poll_interval": true, "websocket": true,
	},
	"logging": {
		"log_level": true, "log_format": true,
	},
	"network": {
		"connect_timeout": true, "data_timeout": true,
		"user_agent": true, "force_http_11": true,
	},
}

// knownProfileKeys are the valid flat keys inside a [profile.NAME] section.
var knownProfileKeys = map[string]bool{
	"account_type": true, "client_id": true, "tenant": true,
	"remote_path": true, "discovery_url": true, "discovery_resource": true,
	"capability": true, "api_version": true, "token_path": true, "state_path": true,
}

// profileKeys is the sorted list form of knownProfileKeys, for deterministic
// suggestions and help text.
var profileKeys = func() []string {
	keys := make([]string, 0, len(knownProfileKeys))
	for k := range knownProfileKeys {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}()

// allKnownKeys is the sorted union of every leaf key, used for Levenshtein
// matching. Sorted for deterministic suggestions when two candidates have
// the same edit distance.
var allKnownKeys = func() []string {
	set := make(map[string]bool)

	for k := range knownProfileKeys {
		set[k] = true
	}

	for _, section := range knownSectionKeys {
		for k := range section {
			set[k] = true
		}
	}

	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}()

// checkUnknownKeys inspects TOML metadata for undecoded keys and returns
// an error with "did you mean?" suggestions for each unknown key.
func checkUnknownKeys(md *toml.MetaData) error {
	undecoded := md.Undecoded()
	if len(undecoded) == 0 {
		return nil
	}

	var errs []error

	for _, key := range undecoded {
		if err := buildKeyError(key.String()); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// buildKeyError creates a descriptive error for an unknown key, optionally
// suggesting the closest known key. Keys arrive dotted: "logging.log_lvl",
// "profile.work.client_id", "profile.work.logging.log_lvl".
func buildKeyError(keyStr string) error {
	parts := strings.Split(keyStr, ".")
	leaf := parts[len(parts)-1]

	suggestion := closestMatch(leaf, allKnownKeys)
	if suggestion != "" {
		return fmt.Errorf("unknown config key %q — did you mean %q?", keyStr, suggestion)
	}

	return fmt.Errorf("unknown config key %q", keyStr)
}

// closestMatch finds the closest known key by Levenshtein distance.
// Returns empty string if no match is within maxLevenshteinDistance.
func closestMatch(unknown string, known []string) string {
	best := ""
	bestDist := maxLevenshteinDistance + 1

	for _, k := range known {
		d := levenshtein(unknown, k)
		if d < bestDist {
			bestDist = d
			best = k
		}
	}

	if bestDist <= maxLevenshteinDistance {
		return best
	}

	return ""
}

// levenshtein computes the edit distance between two strings.
func levenshtein(a, b string) int {
	if a == "" {
		return len(b)
	}

	if b == "" {
		return len(a)
	}

	// Use single-row optimization to avoid allocating a full matrix.
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := range len(a) {
		curr[0] = i + 1

		for j := range len(b) {
			cost := 1
			if a[i] == b[j] {
				cost = 0
			}

			curr[j+1] = minOf(curr[j]+1, prev[j+1]+1, prev[j]+cost)
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}

// minOf returns the minimum of three integers.
func minOf(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}

	if c < m {
		m = c
	}

	return m
}
