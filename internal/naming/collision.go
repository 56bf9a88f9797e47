package naming

import (
	"fmt"
	"log/slog"
)

// CollisionResolver tracks registered relation names per owner table and
// resolves collisions by applying numeric suffixes.
type CollisionResolver struct {
	seenRelations map[string]map[string]string // owner table → relation name → source
	logger        *slog.Logger
}

// NewCollisionResolver creates a new collision resolver.
func NewCollisionResolver(logger *slog.Logger) *CollisionResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &CollisionResolver{
		seenRelations: make(map[string]map[string]string),
		logger:        logger,
	}
}

// RegisterRelation registers a relation name on an owner table and returns the
// resolved name. If a collision occurs, applies a numeric suffix and logs a warning.
func (c *CollisionResolver) RegisterRelation(ownerTable, name, source string) string {
	if c.seenRelations[ownerTable] == nil {
		c.seenRelations[ownerTable] = make(map[string]string)
	}
	return c.resolveCollision(name, c.seenRelations[ownerTable], source)
}

// RelationExists checks if a relation name is already registered for an owner table.
func (c *CollisionResolver) RelationExists(ownerTable, name string) bool {
	if names, ok := c.seenRelations[ownerTable]; ok {
		_, exists := names[name]
		return exists
	}
	return false
}

func (c *CollisionResolver) resolveCollision(name string, seen map[string]string, source string) string {
	if _, exists := seen[name]; !exists {
		seen[name] = source
		return name
	}

	existingSource := seen[name]
	c.logger.Warn("naming collision detected, applying suffix",
		slog.String("name", name),
		slog.String("existing_source", existingSource),
		slog.String("new_source", source),
	)

	for i := 2; ; i++ {
		suffixed := fmt.Sprintf("%s%d", name, i)
		if _, exists := seen[suffixed]; !exists {
			seen[suffixed] = source
			return suffixed
		}
	}
}
