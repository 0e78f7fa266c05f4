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

// knownKeys are the valid top-level keys in the config file. A nested
// key under a known top-level key (e.g. a misspelled field of a
// sync_dirs entry) is reported by its full dotted name.
var knownKeys = map[string]bool{
	"sync_dirs": true, "sync_concurrency": true, "poll_interval": true,
	"debounce": true, "shutdown_timeout": true, "db_path": true,
	"log_level": true, "dry_run": true,
}

var knownKeysList = func() []string {
	keys := make([]string, 0, len(knownKeys))
	for k := range knownKeys {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}()

// checkUnknownKeys inspects TOML metadata for undecoded keys and returns
// an error with "did you mean?" suggestions for each unknown key. A typo
// in a config file should fail loudly rather than silently do nothing.
func checkUnknownKeys(md *toml.MetaData) error {
	undecoded := md.Undecoded()
	if len(undecoded) == 0 {
		return nil
	}

	var errs []error

	for _, key := range undecoded {
		keyStr := key.String()
		topKey := strings.SplitN(keyStr, ".", 2)[0]

		if knownKeys[topKey] {
			if keyStr != topKey {
				errs = append(errs, fmt.Errorf("unknown config key %q", keyStr))
			}

			continue
		}

		suggestion := closestMatch(topKey, knownKeysList)
		if suggestion != "" {
			errs = append(errs, fmt.Errorf("unknown config key %q — did you mean %q?", topKey, suggestion))
		} else {
			errs = append(errs, fmt.Errorf("unknown config key %q", topKey))
		}
	}

	return errors.Join(errs...)
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
