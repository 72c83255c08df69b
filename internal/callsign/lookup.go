// Package callsign resolves DXCC entity, continent and zones from a callsign prefix table.
package callsign

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/lijuuu/ContestLivescoreService/internal/model"
)

//go:embed prefixes.yaml
var defaultTable []byte

type Entry struct {
	Prefix    string `yaml:"prefix" json:"prefix"`
	DXCC      string `yaml:"dxcc" json:"dxcc"`
	Country   string `yaml:"country" json:"country"`
	Continent string `yaml:"continent" json:"continent"`
	CQZone    string `yaml:"cq_zone" json:"cqZone"`
	IARUZone  string `yaml:"iaru_zone" json:"iaruZone"`
}

type Table struct {
	entries map[string]Entry
	maxLen  int
	cache   sync.Map
}

// Load reads a prefix table from path, or the built-in table when path is empty.
func Load(path string) (*Table, error) {
	if path == "" {
		return Parse(defaultTable)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read prefix table: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Table, error) {
	var rows []Entry
	if err := yaml.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("failed to parse prefix table: %w", err)
	}
	t := &Table{entries: make(map[string]Entry, len(rows))}
	for _, row := range rows {
		p := strings.ToUpper(strings.TrimSpace(row.Prefix))
		if p == "" {
			continue
		}
		row.Prefix = p
		t.entries[p] = row
		if len(p) > t.maxLen {
			t.maxLen = len(p)
		}
	}
	return t, nil
}

func (t *Table) Len() int {
	return len(t.entries)
}

// BaseCall strips a portable designator: "K1ABC/P" and "K1ABC/4" become "K1ABC".
func BaseCall(call string) string {
	call = strings.ToUpper(strings.TrimSpace(call))
	base, _, _ := strings.Cut(call, "/")
	return base
}

// Lookup finds the longest prefix of the base callsign in the table.
func (t *Table) Lookup(call string) (Entry, bool) {
	base := BaseCall(call)
	if cached, ok := t.cache.Load(base); ok {
		e, found := cached.(*Entry)
		if !found || e == nil {
			return Entry{}, false
		}
		return *e, true
	}

	var match *Entry
	for i := min(len(base), t.maxLen); i > 0; i-- {
		if e, ok := t.entries[base[:i]]; ok {
			match = &e
			break
		}
	}
	if e, ok := t.entries[base]; ok {
		match = &e
	}
	t.cache.Store(base, match)
	if match == nil {
		return Entry{}, false
	}
	return *match, true
}

// Classify fills the classification of a station from its callsign. DXCC and continent
// come from the table when the callsign resolves; zones are only filled when missing.
func (t *Table) Classify(call string, p model.Profile) model.Profile {
	e, ok := t.Lookup(call)
	if !ok {
		return p
	}
	p.DXCC = e.DXCC
	p.Continent = e.Continent
	if p.CQZone == "" || p.CQZone == "0" {
		p.CQZone = e.CQZone
	}
	if p.IARUZone == "" || p.IARUZone == "0" {
		p.IARUZone = e.IARUZone
	}
	return p
}
