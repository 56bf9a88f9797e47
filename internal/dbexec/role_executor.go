package dbexec

import (
	"context"
	"database/sql"
	"fmt"

	"tidb-eagerload/internal/sqlutil"
)

type roleContextKey struct{}

// WithRole returns a context whose queries run under role when executed by a RoleExecutor.
func WithRole(ctx context.Context, role string) context.Context {
	return context.WithValue(ctx, roleContextKey{}, role)
}

// RoleFromContext returns the role stored by WithRole.
func RoleFromContext(ctx context.Context) (string, bool) {
	role, ok := ctx.Value(roleContextKey{}).(string)
	return role, ok && role != ""
}

// RoleExecutor executes queries using SET ROLE on a dedicated connection.
type RoleExecutor struct {
	db           *sql.DB
	databaseName string
	defaultRole  string
	allowedRoles map[string]struct{}
	validateRole bool
}

// RoleExecutorConfig controls role execution behavior.
type RoleExecutorConfig struct {
	DB           *sql.DB
	DatabaseName string
	// DefaultRole applies when the context carries no role.
	DefaultRole  string
	AllowedRoles []string
	ValidateRole bool
}

// NewRoleExecutor creates an executor that applies SET ROLE before each query.
func NewRoleExecutor(cfg RoleExecutorConfig) *RoleExecutor {
	allowed := make(map[string]struct{}, len(cfg.AllowedRoles))
	for _, role := range cfg.AllowedRoles {
		allowed[role] = struct{}{}
	}
	return &RoleExecutor{
		db:           cfg.DB,
		databaseName: cfg.DatabaseName,
		defaultRole:  cfg.DefaultRole,
		allowedRoles: allowed,
		validateRole: cfg.ValidateRole,
	}
}

// roleFor picks the role for ctx and checks it against the allowlist.
func (e *RoleExecutor) roleFor(ctx context.Context) (string, error) {
	role, ok := RoleFromContext(ctx)
	if !ok {
		role = e.defaultRole
	}
	if role == "" {
		return "", nil
	}
	if e.validateRole {
		if _, allowed := e.allowedRoles[role]; !allowed {
			return "", fmt.Errorf("role not allowed: %s", role)
		}
	}
	return role, nil
}

func (e *RoleExecutor) QueryContext(ctx context.Context, query string, args ...any) (Rows, error) {
	if e.db == nil {
		return nil, sql.ErrConnDone
	}
	role, err := e.roleFor(ctx)
	if err != nil {
		return nil, err
	}

	conn, err := e.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}

	cleanup := func() {
		_, _ = conn.ExecContext(context.Background(), "SET ROLE DEFAULT")
		_ = conn.Close()
	}

	if role != "" {
		// MySQL/TiDB don't support parameterized SET ROLE; the identifier is quoted.
		setRoleSQL := fmt.Sprintf("SET ROLE %s", sqlutil.QuoteIdentifier(role))
		if _, err := conn.ExecContext(ctx, setRoleSQL); err != nil {
			cleanup()
			return nil, fmt.Errorf("failed to set role %s: %w", role, NormalizeQueryError(err))
		}
	}
	if err := e.useDatabase(ctx, conn); err != nil {
		cleanup()
		return nil, err
	}

	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		cleanup()
		return nil, NormalizeQueryError(err)
	}

	return &roleAwareRows{
		Rows:    rows,
		cleanup: cleanup,
	}, nil
}

func (e *RoleExecutor) useDatabase(ctx context.Context, conn *sql.Conn) error {
	if e.databaseName == "" {
		return nil
	}
	useSQL := fmt.Sprintf("USE %s", sqlutil.QuoteIdentifier(e.databaseName))
	if _, err := conn.ExecContext(ctx, useSQL); err != nil {
		return fmt.Errorf("failed to select database %s: %w", e.databaseName, NormalizeQueryError(err))
	}
	return nil
}

type roleAwareRows struct {
	*sql.Rows
	cleanup func()
}

func (r *roleAwareRows) Close() error {
	defer r.cleanup()
	return r.Rows.Close()
}
