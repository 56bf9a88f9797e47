package model

import (
	"fmt"
	"time"

	"github.com/spf13/cast"
	"github.com/vmihailenco/msgpack/v5"
)

// PropKey builds the canonical key for an ordered tuple of values. The same
// function is applied to owner properties and to the owner columns carried on
// result rows, so equal values match regardless of their Go representation:
// int 1, int64 1, uint8 1, float64 1, "1" and []byte("1") all encode alike.
// nil stays distinct from the empty string.
func PropKey(values []interface{}) string {
	parts := make([]interface{}, len(values))
	for i, value := range values {
		parts[i] = keyComponent(value)
	}
	encoded, err := msgpack.Marshal(parts)
	if err != nil {
		return fmt.Sprint(parts...)
	}
	return string(encoded)
}

func keyComponent(value interface{}) interface{} {
	switch v := value.(type) {
	case nil:
		return nil
	case string:
		return v
	case []byte:
		return string(v)
	case time.Time:
		return v.UTC().Format(time.RFC3339Nano)
	case *time.Time:
		if v == nil {
			return nil
		}
		return v.UTC().Format(time.RFC3339Nano)
	}
	s, err := cast.ToStringE(value)
	if err != nil {
		return fmt.Sprint(value)
	}
	return s
}
