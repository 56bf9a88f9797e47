package relation

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"tidb-eagerload/internal/naming"
	"tidb-eagerload/internal/query"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func movieActors() *ManyToMany {
	return &ManyToMany{
		Name:                 "actors",
		OwnerTable:           "movies",
		RelatedTable:         "actors",
		RelatedColumns:       []string{"id"},
		JoinTable:            "movie_actors",
		JoinTableOwnerCols:   []string{"movie_id"},
		JoinTableRelatedCols: []string{"actor_id"},
		OwnerProp:            []string{"id"},
	}
}

func TestFullJoinTableOwnerCols(t *testing.T) {
	rel := movieActors()
	rel.JoinTableOwnerCols = []string{"region", "movie_id"}
	assert.Equal(t, []string{"`movie_actors`.`region`", "`movie_actors`.`movie_id`"}, rel.FullJoinTableOwnerCols())
}

func TestFindQuery(t *testing.T) {
	rel := movieActors()
	b := query.New("actors").Select("`actors`.*")

	err := rel.FindQuery(b, []query.Tuple{{Values: []interface{}{1}}, {Values: []interface{}{2}}})
	require.NoError(t, err)
	assert.True(t, b.Has(query.ClauseJoin))
	assert.True(t, b.Has(query.ClauseWhere))

	q, err := b.ToSQL()
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT `actors`.* FROM `actors` INNER JOIN `movie_actors` ON `movie_actors`.`actor_id` = `actors`.`id` WHERE `movie_actors`.`movie_id` IN (?,?)",
		q.SQL,
	)
	assert.Equal(t, []interface{}{1, 2}, q.Args)
}

func TestFindQueryComposite(t *testing.T) {
	rel := &ManyToMany{
		Name:                 "tags",
		RelatedTable:         "tags",
		RelatedColumns:       []string{"tenant", "id"},
		JoinTable:            "doc_tags",
		JoinTableOwnerCols:   []string{"doc_tenant", "doc_id"},
		JoinTableRelatedCols: []string{"tag_tenant", "tag_id"},
		OwnerProp:            []string{"tenant", "id"},
	}
	b := query.New("tags").Select("`tags`.*")

	err := rel.FindQuery(b, []query.Tuple{{Values: []interface{}{"a", 1}}})
	require.NoError(t, err)

	q, err := b.ToSQL()
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT `tags`.* FROM `tags` INNER JOIN `doc_tags` ON `doc_tags`.`tag_tenant` = `tags`.`tenant` AND `doc_tags`.`tag_id` = `tags`.`id` WHERE (`doc_tags`.`doc_tenant`, `doc_tags`.`doc_id`) IN ((?,?))",
		q.SQL,
	)
	assert.Equal(t, []interface{}{"a", 1}, q.Args)
}

func TestFindQueryRejectsWidthMismatch(t *testing.T) {
	rel := movieActors()
	rel.JoinTableRelatedCols = nil

	err := rel.FindQuery(query.New("actors"), nil)
	assert.True(t, errors.Is(err, ErrInvalidRelation))

	rel = movieActors()
	err = rel.FindQuery(query.New("actors"), []query.Tuple{{Values: []interface{}{1, 2}}})
	assert.Error(t, err)
}

func TestParseCardinality(t *testing.T) {
	tests := []struct {
		input    string
		expected Cardinality
	}{
		{"", OneToMany},
		{"one_to_many", OneToMany},
		{"one-to-one", OneToOne},
		{"OneToOne", OneToOne},
		{"one", OneToOne},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseCardinality(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}

	_, err := ParseCardinality("many_to_one")
	assert.True(t, errors.Is(err, ErrInvalidRelation))
	assert.Equal(t, "one_to_one", OneToOne.String())
	assert.Equal(t, "one_to_many", OneToMany.String())
}

func TestValidate(t *testing.T) {
	require.NoError(t, movieActors().Validate())

	tests := []struct {
		name    string
		mutate  func(*ManyToMany)
		message string
	}{
		{"missing name", func(r *ManyToMany) { r.Name = "" }, "name is required"},
		{"reserved name", func(r *ManyToMany) { r.Name = "__eagerload_owner_0" }, "reserved prefix"},
		{"missing join table", func(r *ManyToMany) { r.JoinTable = "" }, "join_table is required"},
		{"empty owner cols", func(r *ManyToMany) { r.JoinTableOwnerCols = nil }, "join_table_owner_cols must not be empty"},
		{"owner prop width", func(r *ManyToMany) { r.OwnerProp = []string{"id", "region"} }, "owner_props has 2 entries"},
		{"related width", func(r *ManyToMany) { r.JoinTableRelatedCols = []string{"a", "b"} }, "join_table_related_cols has 2 entries"},
		{"extra missing alias", func(r *ManyToMany) {
			r.JoinTableExtras = []JoinTableExtra{{JoinTableCol: "role"}}
		}, "requires join_table_col and alias"},
		{"extra reserved alias", func(r *ManyToMany) {
			r.JoinTableExtras = []JoinTableExtra{{JoinTableCol: "role", AliasCol: "__eagerload_role"}}
		}, "reserved prefix"},
		{"extra duplicate alias", func(r *ManyToMany) {
			r.JoinTableExtras = []JoinTableExtra{{JoinTableCol: "role", AliasCol: "r"}, {JoinTableCol: "billing", AliasCol: "r"}}
		}, "is duplicated"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rel := movieActors()
			tt.mutate(rel)
			err := rel.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidRelation))
			assert.Contains(t, err.Error(), tt.message)
		})
	}
}

const relationsYAML = `
relations:
  - owner_table: movies
    related_table: actors
    related_columns: [id]
    join_table: movie_actors
    join_table_owner_cols: [movie_id]
    join_table_related_cols: [actor_id]
    owner_props: [id]
    join_table_extras:
      - join_table_col: role
      - join_table_col: billing_order
        alias: billing
  - owner_table: movies
    related_table: actors
    related_columns: [id]
    join_table: movie_directors
    join_table_owner_cols: [movie_id]
    join_table_related_cols: [director_id]
    owner_props: [id]
  - name: poster
    owner_table: movies
    related_table: images
    related_columns: [id]
    join_table: movie_posters
    join_table_owner_cols: [movie_id]
    join_table_related_cols: [image_id]
    owner_props: [id]
    cardinality: one_to_one
  - owner_table: movies
    related_table: studios
    related_columns: [id]
    join_table: movie_studios
    join_table_owner_cols: [movie_id]
    join_table_related_cols: [studio_id]
    owner_props: [id]
    cardinality: one-to-one
`

func TestLoad(t *testing.T) {
	rels, err := Load(strings.NewReader(relationsYAML), naming.Default())
	require.NoError(t, err)
	require.Len(t, rels, 4)

	assert.Equal(t, "actors", rels[0].Name)
	assert.Equal(t, []JoinTableExtra{
		{JoinTableCol: "role", AliasCol: "role"},
		{JoinTableCol: "billing_order", AliasCol: "billing"},
	}, rels[0].JoinTableExtras)
	assert.False(t, rels[0].IsOneToOne())

	assert.Equal(t, "actors2", rels[1].Name)

	assert.Equal(t, "poster", rels[2].Name)
	assert.True(t, rels[2].IsOneToOne())

	assert.Equal(t, "studio", rels[3].Name)
	assert.True(t, rels[3].IsOneToOne())

	assert.Same(t, rels[2], Find(rels, "movies", "poster"))
	assert.Nil(t, Find(rels, "shows", "poster"))
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	_, err := Load(strings.NewReader("relations:\n  - nme: actors\n"), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to decode relations")
}

func TestLoadRejectsInvalidRelation(t *testing.T) {
	_, err := Load(strings.NewReader("relations:\n  - name: actors\n    related_table: actors\n"), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidRelation))
	assert.Contains(t, err.Error(), "relations[0]")
}

func TestLoadEmpty(t *testing.T) {
	rels, err := Load(strings.NewReader(""), nil)
	require.NoError(t, err)
	assert.Empty(t, rels)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relations.yaml")
	require.NoError(t, os.WriteFile(path, []byte(relationsYAML), 0o600))

	rels, err := LoadFile(path, nil)
	require.NoError(t, err)
	assert.Len(t, rels, 4)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}
