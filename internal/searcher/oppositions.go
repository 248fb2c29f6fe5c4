package searcher

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// curatedPairs seeds the default opposition table. Every pair is symmetric.
var curatedPairs = [][2]string{
	{"being", "nothing"},
	{"being", "becoming"},
	{"nothing", "becoming"},
	{"identity", "difference"},
	{"one", "many"},
	{"unity", "multiplicity"},
	{"finite", "infinite"},
	{"universal", "particular"},
	{"essence", "appearance"},
	{"appearance", "reality"},
	{"freedom", "necessity"},
	{"necessity", "contingency"},
	{"subject", "object"},
	{"self", "other"},
	{"mind", "body"},
	{"spirit", "nature"},
	{"nature", "culture"},
	{"form", "matter"},
	{"substance", "accident"},
	{"whole", "part"},
	{"cause", "effect"},
	{"actuality", "potentiality"},
	{"presence", "absence"},
	{"immanence", "transcendence"},
	{"master", "slave"},
	{"good", "evil"},
	{"life", "death"},
	{"permanence", "change"},
	{"affirmation", "negation"},
	{"positive", "negative"},
	{"thesis", "antithesis"},
	{"reason", "passion"},
	{"rationalism", "empiricism"},
	{"idealism", "materialism"},
}

// OppositionTable is a symmetric term -> opposites lookup. Terms are
// lowercase single words.
type OppositionTable struct {
	opposites map[string][]string
}

// NewOppositionTable builds a table from term -> opposites entries, adding
// the reverse of every entry
func NewOppositionTable(entries map[string][]string) *OppositionTable {
	t := &OppositionTable{opposites: make(map[string][]string)}
	t.Merge(entries)
	return t
}

// DefaultOppositions returns the curated table
func DefaultOppositions() *OppositionTable {
	t := &OppositionTable{opposites: make(map[string][]string)}
	for _, p := range curatedPairs {
		t.add(p[0], p[1])
	}
	return t
}

// oppositionFile is the TOML layout:
//
//	[oppositions]
//	light = ["darkness"]
type oppositionFile struct {
	Oppositions map[string][]string `toml:"oppositions"`
}

// LoadOppositions reads a TOML opposition file and merges it with the
// curated defaults
func LoadOppositions(path string) (*OppositionTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read oppositions: %w", err)
	}
	return ParseOppositions(data)
}

// ParseOppositions parses TOML opposition data merged over the curated defaults
func ParseOppositions(data []byte) (*OppositionTable, error) {
	var f oppositionFile
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse oppositions: %w", err)
	}
	t := DefaultOppositions()
	t.Merge(f.Oppositions)
	return t, nil
}

// Merge adds entries and their reverses
func (t *OppositionTable) Merge(entries map[string][]string) {
	// Map order is random; sorted keys keep the opposite lists deterministic
	terms := make([]string, 0, len(entries))
	for term := range entries {
		terms = append(terms, term)
	}
	sort.Strings(terms)

	for _, term := range terms {
		for _, opp := range entries[term] {
			t.add(term, opp)
		}
	}
}

func (t *OppositionTable) add(a, b string) {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == "" || b == "" || a == b {
		return
	}
	t.link(a, b)
	t.link(b, a)
}

func (t *OppositionTable) link(from, to string) {
	for _, existing := range t.opposites[from] {
		if existing == to {
			return
		}
	}
	t.opposites[from] = append(t.opposites[from], to)
}

// Opposites returns the opposites of term in insertion order
func (t *OppositionTable) Opposites(term string) []string {
	return append([]string(nil), t.opposites[strings.ToLower(term)]...)
}

// OppositesOf returns the distinct opposites of every term, excluding terms
// that are themselves in the query
func (t *OppositionTable) OppositesOf(terms []string) []string {
	inQuery := make(map[string]bool, len(terms))
	for _, term := range terms {
		inQuery[strings.ToLower(term)] = true
	}

	seen := make(map[string]bool)
	var out []string
	for _, term := range terms {
		for _, opp := range t.opposites[strings.ToLower(term)] {
			if inQuery[opp] || seen[opp] {
				continue
			}
			seen[opp] = true
			out = append(out, opp)
		}
	}
	return out
}

// Len returns the number of terms with at least one opposite
func (t *OppositionTable) Len() int {
	return len(t.opposites)
}
