// Package catalog declares which tables take part in a backup and the
// foreign-key order in which they are cleared and restored.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"sort"

	"gopkg.in/yaml.v3"
)

var (
	ErrEmptyCatalog   = errors.New("catalog has no tables")
	ErrInvalidTable   = errors.New("invalid catalog table")
	ErrRankViolation  = errors.New("table must rank above the tables it references")
	ErrUnknownTable   = errors.New("unknown table")
	ErrMultipleIdents = errors.New("at most one identity table is allowed")
)

//go:embed default.yaml
var defaultYAML []byte

// Identity marks the table whose rows mirror identity-provider accounts.
// Link names the column that stores the provider's account id.
type Identity struct {
	Link string `yaml:"link"`
}

// Table is one catalog entry.
type Table struct {
	Name       string    `yaml:"name"`
	Rank       int       `yaml:"rank"`
	Key        []string  `yaml:"key"`
	Function   string    `yaml:"function"`
	References []string  `yaml:"references"`
	Identity   *Identity `yaml:"identity"`
}

// Catalog is an immutable, validated set of tables in insertion order.
type Catalog struct {
	tables []Table
	index  map[string]int
}

type document struct {
	Tables []Table `yaml:"tables"`
}

// Default returns the built-in catalog.
func Default() *Catalog {
	c, err := Parse(defaultYAML)
	if err != nil {
		panic(fmt.Sprintf("catalog: embedded default is invalid: %v", err))
	}
	return c
}

// FromPath loads the catalog at path, or the built-in one when path is empty.
func FromPath(path string) (*Catalog, error) {
	if path == "" {
		return Default(), nil
	}
	return LoadFile(path)
}

// LoadFile reads a catalog from a YAML file.
func LoadFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f)
}

// Load reads a catalog from r.
func Load(r io.Reader) (*Catalog, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes and validates a YAML catalog.
func Parse(data []byte) (*Catalog, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing catalog: %w", err)
	}
	return New(doc.Tables)
}

// New validates tables and orders them by rank. Tables of equal rank keep
// their declared order.
func New(tables []Table) (*Catalog, error) {
	if len(tables) == 0 {
		return nil, ErrEmptyCatalog
	}

	ordered := slices.Clone(tables)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Rank < ordered[j].Rank })

	c := &Catalog{tables: ordered, index: make(map[string]int, len(ordered))}
	identities := 0
	for i, t := range ordered {
		if t.Name == "" {
			return nil, fmt.Errorf("%w: entry %d has no name", ErrInvalidTable, i)
		}
		if t.Rank < 0 {
			return nil, fmt.Errorf("%w: %s has negative rank", ErrInvalidTable, t.Name)
		}
		if _, dup := c.index[t.Name]; dup {
			return nil, fmt.Errorf("%w: %s declared twice", ErrInvalidTable, t.Name)
		}
		if t.Identity != nil {
			identities++
		}
		c.index[t.Name] = i
	}
	if identities > 1 {
		return nil, ErrMultipleIdents
	}

	for _, t := range ordered {
		for _, ref := range t.References {
			parent, ok := c.Lookup(ref)
			if !ok {
				return nil, fmt.Errorf("%w: %s references %s", ErrUnknownTable, t.Name, ref)
			}
			if parent.Rank >= t.Rank {
				return nil, fmt.Errorf("%w: %s (rank %d) references %s (rank %d)",
					ErrRankViolation, t.Name, t.Rank, parent.Name, parent.Rank)
			}
		}
	}

	return c, nil
}

// InsertionOrder returns the tables parents first.
func (c *Catalog) InsertionOrder() []Table {
	return slices.Clone(c.tables)
}

// DeletionOrder returns the tables children first, the exact reverse of
// InsertionOrder.
func (c *Catalog) DeletionOrder() []Table {
	out := slices.Clone(c.tables)
	slices.Reverse(out)
	return out
}

// Lookup returns the entry for name.
func (c *Catalog) Lookup(name string) (Table, bool) {
	i, ok := c.index[name]
	if !ok {
		return Table{}, false
	}
	return c.tables[i], true
}

// Has reports whether name is part of the catalog.
func (c *Catalog) Has(name string) bool {
	_, ok := c.index[name]
	return ok
}

// Names returns table names in insertion order.
func (c *Catalog) Names() []string {
	names := make([]string, len(c.tables))
	for i, t := range c.tables {
		names[i] = t.Name
	}
	return names
}
