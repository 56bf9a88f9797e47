package relation

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"tidb-eagerload/internal/naming"

	"gopkg.in/yaml.v3"
)

// File is the on-disk layout of a relation descriptor file.
type File struct {
	Relations []ManyToMany `yaml:"relations"`
}

// LoadFile reads relation descriptors from a YAML file.
func LoadFile(path string, namer *naming.Namer) ([]*ManyToMany, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read relation file %s: %w", path, err)
	}
	rels, err := Load(bytes.NewReader(data), namer)
	if err != nil {
		return nil, fmt.Errorf("relation file %s: %w", path, err)
	}
	return rels, nil
}

// Load decodes relation descriptors, fills defaults and validates each one.
// Unnamed relations are named after the related table; names that collide on
// the same owner table receive a numeric suffix.
func Load(r io.Reader, namer *naming.Namer) ([]*ManyToMany, error) {
	if namer == nil {
		namer = naming.Default()
	}

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var file File
	if err := dec.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to decode relations: %w", err)
	}

	rels := make([]*ManyToMany, 0, len(file.Relations))
	for i := range file.Relations {
		rel := file.Relations[i]
		rel.applyDefaults(namer)
		if err := rel.Validate(); err != nil {
			return nil, fmt.Errorf("relations[%d]: %w", i, err)
		}
		rels = append(rels, &rel)
	}
	return rels, nil
}

func (r *ManyToMany) applyDefaults(namer *naming.Namer) {
	if r.Name == "" && r.RelatedTable != "" {
		r.Name = namer.RelationName(r.RelatedTable, r.IsOneToOne())
	}
	if r.Name != "" {
		r.Name = namer.RegisterRelation(r.OwnerTable, r.Name, r.JoinTable+"->"+r.RelatedTable)
	}
	for i := range r.JoinTableExtras {
		if r.JoinTableExtras[i].AliasCol == "" {
			r.JoinTableExtras[i].AliasCol = r.JoinTableExtras[i].JoinTableCol
		}
	}
}

// Find returns the relation named name on ownerTable, or nil.
func Find(rels []*ManyToMany, ownerTable, name string) *ManyToMany {
	for _, rel := range rels {
		if rel.OwnerTable == ownerTable && rel.Name == name {
			return rel
		}
	}
	return nil
}
