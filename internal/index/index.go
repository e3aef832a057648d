// Package index is the in-memory search projection of live records.
//
// Every entry carries a Bloom filter over the lowercase 1..3 rune-grams of its
// search text. A query is narrowed by a posting list keyed on its first rune,
// probed against the filters (no false negatives), then verified by substring
// match against the cached text. The index is never persisted; the store
// rebuilds it at open.
package index

import (
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/sahilm/fuzzy"
)

// MaxGram is the longest rune-gram inserted into a filter.
const MaxGram = 3

// DefaultFPRate is used when New is given an out-of-range rate.
const DefaultFPRate = 0.01

// Entry is what the store hands the index for one live record.
type Entry struct {
	ID      string
	Text    string
	Created int64
	Pinned  bool
}

type entry struct {
	id      string
	text    string // lowercased
	runes   []rune // distinct runes, for posting cleanup
	created int64
	pinned  bool
	filter  *bloom.BloomFilter
}

// Index is safe for concurrent use.
type Index struct {
	mu      sync.RWMutex
	fpRate  float64
	entries map[string]*entry
	byRune  map[rune]map[string]struct{}
}

// New returns an empty index whose filters target fpRate false positives.
func New(fpRate float64) *Index {
	if fpRate <= 0 || fpRate >= 1 {
		fpRate = DefaultFPRate
	}
	return &Index{
		fpRate:  fpRate,
		entries: make(map[string]*entry),
		byRune:  make(map[rune]map[string]struct{}),
	}
}

// Put adds or replaces the entry for e.ID.
func (x *Index) Put(e Entry) {
	text := strings.ToLower(e.Text)
	grams := gramSet(text)

	n := uint(len(grams))
	if n == 0 {
		n = 1
	}
	f := bloom.NewWithEstimates(n, x.fpRate)
	for g := range grams {
		f.AddString(g)
	}

	seen := make(map[rune]struct{})
	runes := make([]rune, 0, 32)
	for _, r := range text {
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		runes = append(runes, r)
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	x.removeLocked(e.ID)
	x.entries[e.ID] = &entry{
		id:      e.ID,
		text:    text,
		runes:   runes,
		created: e.Created,
		pinned:  e.Pinned,
		filter:  f,
	}
	for _, r := range runes {
		ids := x.byRune[r]
		if ids == nil {
			ids = make(map[string]struct{})
			x.byRune[r] = ids
		}
		ids[e.ID] = struct{}{}
	}
}

// Remove drops the entry for id, if any.
func (x *Index) Remove(id string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.removeLocked(id)
}

func (x *Index) removeLocked(id string) {
	old, ok := x.entries[id]
	if !ok {
		return
	}
	for _, r := range old.runes {
		if ids := x.byRune[r]; ids != nil {
			delete(ids, id)
			if len(ids) == 0 {
				delete(x.byRune, r)
			}
		}
	}
	delete(x.entries, id)
}

// SetPinned updates the ordering flag of id. The filter is unchanged.
func (x *Index) SetPinned(id string, pinned bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if e, ok := x.entries[id]; ok {
		e.pinned = pinned
	}
}

// Touch updates the ordering timestamp of id after a dedup bump.
func (x *Index) Touch(id string, created int64) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if e, ok := x.entries[id]; ok {
		e.created = created
	}
}

// Reset empties the index.
func (x *Index) Reset() {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.entries = make(map[string]*entry)
	x.byRune = make(map[rune]map[string]struct{})
}

// Len returns the number of indexed records.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.entries)
}

// Has reports whether id is indexed.
func (x *Index) Has(id string) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	_, ok := x.entries[id]
	return ok
}

// IDs returns every indexed id in list order.
func (x *Index) IDs() []string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	all := make([]*entry, 0, len(x.entries))
	for _, e := range x.entries {
		all = append(all, e)
	}
	return ordered(all)
}

// Search returns the ids of entries whose text contains query
// (case-insensitive), pinned first then newest first. An empty query matches nothing.
func (x *Index) Search(query string) []string {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	var hits []*entry
	for _, e := range x.candidatesLocked(q) {
		if strings.Contains(e.text, q) {
			hits = append(hits, e)
		}
	}
	return ordered(hits)
}

// candidatesLocked returns entries that may contain q: those sharing its first
// rune whose filters hold every query gram. False positives are possible.
func (x *Index) candidatesLocked(q string) []*entry {
	first, _ := utf8.DecodeRuneInString(q)
	posting := x.byRune[first]
	if len(posting) == 0 {
		return nil
	}
	probes := queryGrams(q)

	out := make([]*entry, 0, len(posting))
	for id := range posting {
		e := x.entries[id]
		if e == nil {
			continue
		}
		match := true
		for _, g := range probes {
			if !e.filter.TestString(g) {
				match = false
				break
			}
		}
		if match {
			out = append(out, e)
		}
	}
	return out
}

// Fuzzy ranks entries by subsequence match of query, best first, returning
// at most limit ids (all when limit <= 0).
func (x *Index) Fuzzy(query string, limit int) []string {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil
	}

	x.mu.RLock()
	all := make([]*entry, 0, len(x.entries))
	for _, e := range x.entries {
		all = append(all, e)
	}
	x.mu.RUnlock()

	// Stable input order so equal scores fall back to list order.
	sortEntries(all)
	matches := fuzzy.FindFrom(q, entrySource(all))

	n := len(matches)
	if limit > 0 && n > limit {
		n = limit
	}
	out := make([]string, 0, n)
	for _, m := range matches[:n] {
		out = append(out, all[m.Index].id)
	}
	return out
}

type entrySource []*entry

func (s entrySource) String(i int) string { return s[i].text }
func (s entrySource) Len() int            { return len(s) }

func ordered(es []*entry) []string {
	if len(es) == 0 {
		return nil
	}
	sortEntries(es)
	ids := make([]string, len(es))
	for i, e := range es {
		ids[i] = e.id
	}
	return ids
}

// sortEntries orders by pinned desc, created desc, id desc, matching the store.
func sortEntries(es []*entry) {
	sort.Slice(es, func(i, j int) bool {
		a, b := es[i], es[j]
		if a.pinned != b.pinned {
			return a.pinned
		}
		if a.created != b.created {
			return a.created > b.created
		}
		return a.id > b.id
	})
}

// gramSet returns every distinct 1..MaxGram rune-gram of s.
func gramSet(s string) map[string]struct{} {
	runes := []rune(s)
	grams := make(map[string]struct{}, len(runes)*MaxGram)
	for i := range runes {
		for n := 1; n <= MaxGram && i+n <= len(runes); n++ {
			grams[string(runes[i:i+n])] = struct{}{}
		}
	}
	return grams
}

// queryGrams returns the longest grams that cover q. Every substring gram of a
// matching text is in its filter, so probing only these keeps zero false negatives.
func queryGrams(q string) []string {
	runes := []rune(q)
	n := MaxGram
	if len(runes) < n {
		n = len(runes)
	}
	out := make([]string, 0, len(runes)-n+1)
	for i := 0; i+n <= len(runes); i++ {
		out = append(out, string(runes[i:i+n]))
	}
	return out
}
