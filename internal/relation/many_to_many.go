// Package relation describes many-to-many relations through a join table and
// contributes the join and ownership filter to a find query.
package relation

import (
	"fmt"
	"strings"

	"tidb-eagerload/internal/query"
	"tidb-eagerload/internal/sqlutil"

	"gopkg.in/yaml.v3"
)

// Cardinality controls whether owners receive a single related record or a list.
type Cardinality int

const (
	// OneToMany assigns a list of related records to each owner.
	OneToMany Cardinality = iota
	// OneToOne assigns the first related record, or nil.
	OneToOne
)

func (c Cardinality) String() string {
	switch c {
	case OneToOne:
		return "one_to_one"
	default:
		return "one_to_many"
	}
}

// ParseCardinality accepts "one_to_many", "one_to_one" and their
// hyphenated or camelCase spellings. Empty means OneToMany.
func ParseCardinality(s string) (Cardinality, error) {
	switch strings.ToLower(strings.NewReplacer("-", "_", " ", "_").Replace(strings.TrimSpace(s))) {
	case "", "one_to_many", "onetomany", "many":
		return OneToMany, nil
	case "one_to_one", "onetoone", "one":
		return OneToOne, nil
	default:
		return OneToMany, fmt.Errorf("%w: unknown cardinality %q", ErrInvalidRelation, s)
	}
}

// UnmarshalYAML decodes a cardinality from its string form.
func (c *Cardinality) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := ParseCardinality(raw)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// JoinTableExtra is a join-table column copied onto each related record under AliasCol.
type JoinTableExtra struct {
	JoinTableCol string `yaml:"join_table_col"`
	AliasCol     string `yaml:"alias"`
}

// ManyToMany relates owners to related rows through a join table.
// Column lists are positional: JoinTableOwnerCols[i] holds OwnerProp[i] and
// JoinTableRelatedCols[i] joins to RelatedColumns[i].
type ManyToMany struct {
	Name                 string           `yaml:"name"`
	OwnerTable           string           `yaml:"owner_table"`
	RelatedTable         string           `yaml:"related_table"`
	RelatedColumns       []string         `yaml:"related_columns"`
	JoinTable            string           `yaml:"join_table"`
	JoinTableOwnerCols   []string         `yaml:"join_table_owner_cols"`
	JoinTableRelatedCols []string         `yaml:"join_table_related_cols"`
	JoinTableExtras      []JoinTableExtra `yaml:"join_table_extras"`
	OwnerProp            []string         `yaml:"owner_props"`
	Cardinality          Cardinality      `yaml:"cardinality"`
}

// IsOneToOne reports whether owners receive a single record.
func (r *ManyToMany) IsOneToOne() bool {
	return r.Cardinality == OneToOne
}

// FullJoinTableOwnerCols returns the owner columns qualified by the join table.
func (r *ManyToMany) FullJoinTableOwnerCols() []string {
	cols := make([]string, len(r.JoinTableOwnerCols))
	for i, col := range r.JoinTableOwnerCols {
		cols[i] = sqlutil.QualifiedIdentifier(r.JoinTable, col)
	}
	return cols
}

// FindQuery joins the join table onto the related table and restricts the
// result to rows owned by ownerIDs.
func (r *ManyToMany) FindQuery(b *query.Builder, ownerIDs []query.Tuple) error {
	if len(r.JoinTableRelatedCols) == 0 || len(r.JoinTableRelatedCols) != len(r.RelatedColumns) {
		return fmt.Errorf("%w: %s: related key mapping width mismatch", ErrInvalidRelation, r.Name)
	}
	joinPredicates := make([]string, len(r.JoinTableRelatedCols))
	for i := range r.JoinTableRelatedCols {
		joinPredicates[i] = fmt.Sprintf(
			"%s = %s",
			sqlutil.QualifiedIdentifier(r.JoinTable, r.JoinTableRelatedCols[i]),
			sqlutil.QualifiedIdentifier(r.RelatedTable, r.RelatedColumns[i]),
		)
	}

	pred, err := query.TupleIn(r.FullJoinTableOwnerCols(), ownerIDs)
	if err != nil {
		return fmt.Errorf("%s: %w", r.Name, err)
	}

	b.Join(fmt.Sprintf("%s ON %s", sqlutil.QuoteIdentifier(r.JoinTable), strings.Join(joinPredicates, " AND ")))
	b.Where(pred)
	return nil
}
