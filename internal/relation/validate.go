package relation

import (
	"errors"
	"fmt"

	"tidb-eagerload/internal/naming"
)

// ErrInvalidRelation is returned for malformed relation descriptors.
var ErrInvalidRelation = errors.New("invalid relation")

// Validate checks that the descriptor can be used to build a find query.
func (r *ManyToMany) Validate() error {
	label := r.Name
	if label == "" {
		label = "(unnamed)"
	}
	var errs []error
	fail := func(format string, args ...interface{}) {
		errs = append(errs, fmt.Errorf("%w: %s: %s", ErrInvalidRelation, label, fmt.Sprintf(format, args...)))
	}

	if r.Name == "" {
		fail("name is required")
	} else if naming.IsReserved(r.Name) {
		fail("name %q uses reserved prefix %q", r.Name, naming.ReservedPrefix)
	}
	if r.RelatedTable == "" {
		fail("related_table is required")
	}
	if r.JoinTable == "" {
		fail("join_table is required")
	}
	if len(r.JoinTableOwnerCols) == 0 {
		fail("join_table_owner_cols must not be empty")
	}
	if len(r.OwnerProp) != len(r.JoinTableOwnerCols) {
		fail("owner_props has %d entries, join_table_owner_cols has %d", len(r.OwnerProp), len(r.JoinTableOwnerCols))
	}
	if len(r.RelatedColumns) == 0 {
		fail("related_columns must not be empty")
	}
	if len(r.JoinTableRelatedCols) != len(r.RelatedColumns) {
		fail("join_table_related_cols has %d entries, related_columns has %d", len(r.JoinTableRelatedCols), len(r.RelatedColumns))
	}

	seenAliases := make(map[string]struct{}, len(r.JoinTableExtras))
	for i, extra := range r.JoinTableExtras {
		if extra.JoinTableCol == "" || extra.AliasCol == "" {
			fail("join_table_extras[%d] requires join_table_col and alias", i)
			continue
		}
		if naming.IsReserved(extra.AliasCol) {
			fail("join_table_extras[%d] alias %q uses reserved prefix %q", i, extra.AliasCol, naming.ReservedPrefix)
		}
		if _, dup := seenAliases[extra.AliasCol]; dup {
			fail("join_table_extras[%d] alias %q is duplicated", i, extra.AliasCol)
		}
		seenAliases[extra.AliasCol] = struct{}{}
	}

	return errors.Join(errs...)
}
