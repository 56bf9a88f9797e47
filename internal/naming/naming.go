package naming

import (
	"log/slog"
	"strings"
)

// Namer derives relation property names. It is not safe for concurrent use.
type Namer struct {
	config   Config
	logger   *slog.Logger
	resolver *CollisionResolver
}

// New creates a Namer with the given configuration
func New(cfg Config, logger *slog.Logger) *Namer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Namer{
		config:   cfg,
		logger:   logger,
		resolver: NewCollisionResolver(logger),
	}
}

// Default returns a Namer with default configuration
func Default() *Namer {
	return New(DefaultConfig(), nil)
}

// Reset clears registered relation names so the namer can be reused for a
// new set of descriptors.
func (n *Namer) Reset() {
	n.resolver = NewCollisionResolver(n.logger)
}

// RelationName returns the default property name for a relation to
// relatedTable: the singular table name for one-to-one relations and the
// plural table name otherwise.
// Example: ("actors", false) -> "actors", ("actors", true) -> "actor"
func (n *Namer) RelationName(relatedTable string, oneToOne bool) string {
	name := strings.ToLower(relatedTable)
	if oneToOne {
		name = n.Singularize(name)
	} else {
		name = n.Pluralize(name)
	}
	return n.validateAndStrip(name)
}

// RegisterRelation records a relation name on ownerTable and returns the
// resolved name, suffixed when another relation already uses it.
func (n *Namer) RegisterRelation(ownerTable, name, source string) string {
	return n.resolver.RegisterRelation(ownerTable, n.validateAndStrip(name), source)
}

func (n *Namer) validateAndStrip(name string) string {
	if !IsReserved(name) {
		return name
	}
	safeName := strings.TrimLeft(name, "_")
	n.logger.Warn("relation name uses reserved prefix, stripped",
		slog.String("original", name),
		slog.String("renamed", safeName),
	)
	return safeName
}
