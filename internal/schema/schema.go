// Package schema describes the collections of the Trade database: their
// fields, value domains and foreign-key relationships. A Descriptor is built
// once at startup and shared read-only.
package schema

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"tradeq/internal/domain"
)

// Field describes one field of a collection.
type Field struct {
	Name   string
	Type   string
	Ref    *domain.Collection
	Values []string
}

// CollectionSpec describes one collection.
type CollectionSpec struct {
	Name   domain.Collection
	Role   string
	Fields []Field
	Notes  []string
}

// Relationship is a foreign key from one collection field to another collection's _id.
type Relationship struct {
	From  domain.Collection
	Field string
	To    domain.Collection
}

func (r Relationship) String() string {
	return fmt.Sprintf("%s.%s -> %s._id", r.From, r.Field, r.To)
}

// Descriptor is the immutable schema description used to ground prompts.
type Descriptor struct {
	Database    string
	Version     string
	Collections []CollectionSpec
}

// Validate checks that collections are unique and non-empty and that every
// foreign-key target is itself declared.
func (d *Descriptor) Validate() error {
	if d == nil || len(d.Collections) == 0 {
		return errors.New("schema declares no collections")
	}
	seen := make(map[domain.Collection]bool, len(d.Collections))
	for _, c := range d.Collections {
		if !c.Name.Valid() {
			return fmt.Errorf("schema declares unknown collection %d", c.Name)
		}
		if seen[c.Name] {
			return fmt.Errorf("collection %s declared twice", c.Name)
		}
		seen[c.Name] = true
		if len(c.Fields) == 0 {
			return fmt.Errorf("collection %s has no fields", c.Name)
		}
	}
	for _, c := range d.Collections {
		for _, f := range c.Fields {
			if f.Ref != nil && !seen[*f.Ref] {
				return fmt.Errorf("%s.%s references undeclared collection %s", c.Name, f.Name, *f.Ref)
			}
		}
	}
	return nil
}

// Has reports whether c is declared.
func (d *Descriptor) Has(c domain.Collection) bool {
	for _, cs := range d.Collections {
		if cs.Name == c {
			return true
		}
	}
	return false
}

// AllowList returns the declared collection names in declaration order.
func (d *Descriptor) AllowList() []string {
	out := make([]string, 0, len(d.Collections))
	for _, c := range d.Collections {
		out = append(out, c.Name.String())
	}
	return out
}

// Relationships lists the foreign keys in declaration order.
func (d *Descriptor) Relationships() []Relationship {
	var out []Relationship
	for _, c := range d.Collections {
		for _, f := range c.Fields {
			if f.Ref != nil {
				out = append(out, Relationship{From: c.Name, Field: f.Name, To: *f.Ref})
			}
		}
	}
	return out
}

func ref(c domain.Collection) *domain.Collection { return &c }

var months = []string{"april", "may", "june", "july", "august", "september", "october", "november", "december", "january", "february", "march"}

// Default returns the descriptor of the Trade database.
func Default() *Descriptor {
	impexp := []Field{
		{Name: "_id", Type: "ObjectId"},
		{Name: "import_export_quantity_in_000_metric_tonnes", Type: "String", Values: []string{"IMPORT", "EXPORT"}},
		{Name: "product", Type: "String"},
	}
	for _, m := range months {
		impexp = append(impexp, Field{Name: m, Type: "Number"})
	}
	impexp = append(impexp, Field{Name: "total", Type: "Number"})

	return &Descriptor{
		Database: "Trade",
		Version:  "2024-11",
		Collections: []CollectionSpec{
			{
				Name: domain.Trades,
				Role: "individual trade lines with USD values, units and ports",
				Fields: []Field{
					{Name: "_id", Type: "ObjectId"},
					{Name: "country_id", Type: "ObjectId", Ref: ref(domain.Countries)},
					{Name: "commodity_id", Type: "ObjectId", Ref: ref(domain.Commodities)},
					{Name: "year_id", Type: "ObjectId", Ref: ref(domain.Years)},
					{Name: "trade_type", Type: "String", Values: []string{"Export", "Import"}},
					{Name: "quantity", Type: "Number"},
					{Name: "value_usd", Type: "Number"},
					{Name: "currency", Type: "String", Values: []string{"USD"}},
					{Name: "unit_price", Type: "Number"},
					{Name: "port", Type: "String"},
					{Name: "created_at", Type: "ISODate"},
				},
			},
			{
				Name: domain.Countries,
				Role: "country reference data",
				Fields: []Field{
					{Name: "_id", Type: "ObjectId"},
					{Name: "country_code", Type: "String"},
					{Name: "country_name", Type: "String"},
					{Name: "region", Type: "String"},
					{Name: "sub_region", Type: "String"},
					{Name: "iso3", Type: "String"},
					{Name: "currency", Type: "String"},
					{Name: "population", Type: "Number"},
				},
			},
			{
				Name: domain.Commodities,
				Role: "commodity reference data",
				Fields: []Field{
					{Name: "_id", Type: "ObjectId"},
					{Name: "hs_code", Type: "String"},
					{Name: "commodity_name", Type: "String"},
					{Name: "category", Type: "String"},
					{Name: "unit", Type: "String"},
					{Name: "description", Type: "String"},
				},
			},
			{
				Name: domain.Years,
				Role: "year reference data",
				Fields: []Field{
					{Name: "_id", Type: "ObjectId"},
					{Name: "year", Type: "Number"},
					{Name: "description", Type: "String"},
				},
			},
			{
				Name:   domain.ImpExp,
				Role:   "monthly and annual import/export totals in thousand metric tonnes, one row per product",
				Fields: impexp,
				Notes:  []string{"product is equivalent to commodities.commodity_name"},
			},
		},
	}
}

// file mirrors Descriptor in YAML form.
type file struct {
	Database    string `yaml:"database"`
	Version     string `yaml:"version"`
	Collections []struct {
		Name   string   `yaml:"name"`
		Role   string   `yaml:"role"`
		Notes  []string `yaml:"notes"`
		Fields []struct {
			Name   string   `yaml:"name"`
			Type   string   `yaml:"type"`
			Ref    string   `yaml:"ref"`
			Values []string `yaml:"values"`
		} `yaml:"fields"`
	} `yaml:"collections"`
}

// LoadFile reads a descriptor from YAML. Collection names must belong to the
// known set; the result is validated before it is returned.
func LoadFile(path string) (*Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse schema %s: %w", path, err)
	}
	d := &Descriptor{Database: f.Database, Version: f.Version}
	for _, fc := range f.Collections {
		name, ok := domain.ParseCollection(fc.Name)
		if !ok {
			return nil, fmt.Errorf("schema %s: unknown collection %q", path, fc.Name)
		}
		cs := CollectionSpec{Name: name, Role: fc.Role, Notes: fc.Notes}
		for _, ff := range fc.Fields {
			fld := Field{Name: ff.Name, Type: ff.Type, Values: ff.Values}
			if ff.Ref != "" {
				target, ok := domain.ParseCollection(ff.Ref)
				if !ok {
					return nil, fmt.Errorf("schema %s: %s.%s references unknown collection %q", path, fc.Name, ff.Name, ff.Ref)
				}
				fld.Ref = ref(target)
			}
			cs.Fields = append(cs.Fields, fld)
		}
		d.Collections = append(d.Collections, cs)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}
