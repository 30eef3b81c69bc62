// Package domain defines the core records of a playsync run.
package domain

import (
	"strings"
	"time"
)

// PlayedGame is one title from the played-games listing as stored.
type PlayedGame struct {
	Title     string    `json:"title"`
	FirstSeen time.Time `json:"firstSeen"`
	LastSeen  time.Time `json:"lastSeen"`
}

// Valid reports whether the record satisfies firstSeen <= lastSeen.
func (g PlayedGame) Valid() bool {
	return g.Title != "" && !g.FirstSeen.After(g.LastSeen)
}

// NormalizeTitle trims a title and collapses internal whitespace runs
// to a single space. Case is preserved.
func NormalizeTitle(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// DedupeTitles normalizes titles and drops empties and repeats, keeping
// first-occurrence order.
func DedupeTitles(titles []string) []string {
	seen := make(map[string]struct{}, len(titles))
	out := make([]string, 0, len(titles))
	for _, t := range titles {
		t = NormalizeTitle(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// Millis converts t to epoch milliseconds, the unit the graph stores.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}

// FromMillis is the inverse of Millis.
func FromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
