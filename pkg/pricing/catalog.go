package pricing

import (
	"github.com/pkg/errors"
)

// CatalogEntry is one sellable item
type CatalogEntry struct {
	Label string `json:"label"`
	Price Money  `json:"price"`
}

// Catalog is the ordered label to unit price table.
// It is built once at startup and only read afterwards.
type Catalog struct {
	entries []CatalogEntry
	index   map[string]int
}

// DefaultEntries returns the stock price list
func DefaultEntries() []CatalogEntry {
	return []CatalogEntry{
		{Label: "Dairy Milk Snack Bar", Price: 150},
		{Label: "Colgate Toothpaste", Price: 325},
		{Label: "Cup Noodle Container", Price: 99},
		{Label: "Croissant", Price: 50},
		{Label: "Banana", Price: 120},
	}
}

// NewCatalog builds a catalog, rejecting empty or duplicate labels
func NewCatalog(entries []CatalogEntry) (*Catalog, error) {
	c := &Catalog{
		entries: make([]CatalogEntry, 0, len(entries)),
		index:   make(map[string]int, len(entries)),
	}
	for _, e := range entries {
		if e.Label == "" {
			return nil, errors.New("catalog entry with empty label")
		}
		if e.Price < 0 {
			return nil, errors.Errorf("catalog entry %q has negative price", e.Label)
		}
		if _, dup := c.index[e.Label]; dup {
			return nil, errors.Errorf("duplicate catalog label %q", e.Label)
		}
		c.index[e.Label] = len(c.entries)
		c.entries = append(c.entries, e)
	}
	return c, nil
}

// MustCatalog is like NewCatalog but panics on error
func MustCatalog(entries []CatalogEntry) *Catalog {
	c, err := NewCatalog(entries)
	if err != nil {
		panic(err)
	}
	return c
}

// Labels returns the vocabulary in configuration order
func (c *Catalog) Labels() []string {
	labels := make([]string, len(c.entries))
	for i, e := range c.entries {
		labels[i] = e.Label
	}
	return labels
}

// Entries returns a copy of the catalog entries
func (c *Catalog) Entries() []CatalogEntry {
	return append([]CatalogEntry(nil), c.entries...)
}

// Lookup returns the unit price for label
func (c *Catalog) Lookup(label string) (Money, bool) {
	i, ok := c.index[label]
	if !ok {
		return 0, false
	}
	return c.entries[i].Price, true
}

// Len returns the number of entries
func (c *Catalog) Len() int {
	return len(c.entries)
}

func (c *Catalog) position(label string) int {
	if i, ok := c.index[label]; ok {
		return i
	}
	return len(c.entries)
}
