package model

// Owner is an entity that related records are distributed onto.
type Owner interface {
	// Values returns the values of props, in props order.
	Values(props []string) []interface{}
	// SetRelation writes the resolved relation value under name.
	SetRelation(name string, value interface{})
}

// Record is a generic entity keyed by column (or property) name.
type Record map[string]interface{}

// Values returns the values for props in order. Missing props yield nil.
func (r Record) Values(props []string) []interface{} {
	values := make([]interface{}, len(props))
	for i, prop := range props {
		values[i] = r[prop]
	}
	return values
}

// SetRelation stores value under name. A nil value is stored explicitly so the
// key is present even when nothing is related.
func (r Record) SetRelation(name string, value interface{}) {
	r[name] = value
}

// PropKey returns the canonical key of the record's props.
func (r Record) PropKey(props []string) string {
	return PropKey(r.Values(props))
}

// HydrateRecords converts every row into a Record, preserving row order.
func HydrateRecords(rows *RowSet) ([]Record, error) {
	records := make([]Record, rows.Len())
	for i, values := range rows.Values {
		record := make(Record, len(rows.Columns))
		for j, col := range rows.Columns {
			if j < len(values) {
				record[col] = values[j]
			} else {
				record[col] = nil
			}
		}
		records[i] = record
	}
	return records, nil
}
