package extract

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/common/textutil"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/config"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/filters"
)

type lexiconEntry struct {
	term string
	frag filters.FilterSet
}

// Lexicon maps vague shopping terms to partial filter sets. Entries are
// applied in order and only fill fields that are still unset, so the first
// matching term wins a field.
type Lexicon struct {
	entries []lexiconEntry
}

// DefaultLexicon returns the built-in vague term mapping.
func DefaultLexicon() *Lexicon {
	return &Lexicon{entries: []lexiconEntry{
		{"cheap", filters.FilterSet{PriceMax: filters.Float(50)}},
		{"affordable", filters.FilterSet{PriceMax: filters.Float(100)}},
		{"expensive", filters.FilterSet{PriceMin: filters.Float(500)}},
		{"premium", filters.FilterSet{PriceMin: filters.Float(300)}},
		{"budget", filters.FilterSet{PriceMax: filters.Float(75)}},
		{"high-end", filters.FilterSet{PriceMin: filters.Float(400)}},
		{"top-rated", filters.FilterSet{RatingMin: filters.Float(4.5)}},
		{"best", filters.FilterSet{RatingMin: filters.Float(4.0)}},
	}}
}

// LoadLexicon starts from the defaults, then applies cfg.Terms and finally
// the YAML file named by cfg.File. An override replaces the default entry for
// the same term; new terms are appended in alphabetical order.
func LoadLexicon(cfg config.LexiconConfig) (*Lexicon, error) {
	l := DefaultLexicon()
	l.Override(cfg.Terms)
	if cfg.File == "" {
		return l, nil
	}
	data, err := os.ReadFile(cfg.File)
	if err != nil {
		return nil, fmt.Errorf("read lexicon %s: %w", cfg.File, err)
	}
	var terms map[string]map[string]interface{}
	if err := yaml.Unmarshal(data, &terms); err != nil {
		return nil, fmt.Errorf("parse lexicon %s: %w", cfg.File, err)
	}
	l.Override(terms)
	return l, nil
}

// Override replaces or adds entries.
func (l *Lexicon) Override(terms map[string]map[string]interface{}) {
	names := make([]string, 0, len(terms))
	for name := range terms {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		frag := filters.FromMap(terms[name])
		replaced := false
		for i := range l.entries {
			if l.entries[i].term == name {
				l.entries[i].frag = frag
				replaced = true
				break
			}
		}
		if !replaced {
			l.entries = append(l.entries, lexiconEntry{term: name, frag: frag})
		}
	}
}

func (l *Lexicon) Len() int {
	return len(l.entries)
}

// Apply fills unset scalar fields of fs from every term found in query.
func (l *Lexicon) Apply(query string, fs filters.FilterSet) filters.FilterSet {
	tokens := textutil.Tokenize(query)
	for _, e := range l.entries {
		if textutil.ContainsPhrase(tokens, e.term) {
			fs = fs.FillUnset(e.frag)
		}
	}
	return fs
}

// JSON renders the mapping for the extraction prompt.
func (l *Lexicon) JSON() string {
	m := make(map[string]map[string]any, len(l.entries))
	for _, e := range l.entries {
		m[e.term] = e.frag.ToMap()
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}
