package naming

import "strings"

// ReservedPrefix marks column aliases the loader adds to a query and strips
// from the result before hydration. Relation names and join-table extra
// aliases must not use it.
const ReservedPrefix = "__eagerload_"

// IsReserved reports whether name collides with the loader's internal aliases.
func IsReserved(name string) bool {
	return strings.HasPrefix(strings.ToLower(name), ReservedPrefix)
}
