package rolestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/authz-engine/roles-core/pkg/types"
)

// NativeRolesProvider serves role descriptors stored in the security roles
// table of a PostgreSQL database. Role authoring happens elsewhere; this
// provider only reads.
type NativeRolesProvider struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewNativeRolesProvider creates a provider over an open database handle.
func NewNativeRolesProvider(db *sql.DB, logger *zap.Logger) *NativeRolesProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NativeRolesProvider{db: db, logger: logger}
}

// RetrieveRoles implements RolesProvider. The query runs on its own
// goroutine; the listener observes either the found descriptors or the
// query failure.
func (p *NativeRolesProvider) RetrieveRoles(ctx context.Context, names []string, listener func(RoleRetrievalResult)) {
	go func() {
		descriptors, err := p.fetch(ctx, names)
		if err != nil {
			p.logger.Warn("native role retrieval failed",
				zap.Strings("roles", names),
				zap.Error(err),
			)
			listener(RoleRetrievalResult{Err: fmt.Errorf("failed to retrieve stored roles: %w", err)})
			return
		}
		listener(RoleRetrievalResult{Descriptors: descriptors})
	}()
}

func (p *NativeRolesProvider) fetch(ctx context.Context, names []string) ([]types.RoleDescriptor, error) {
	query := `
		SELECT name, descriptor
		FROM security_roles
		WHERE name = ANY($1)
	`
	rows, err := p.db.QueryContext(ctx, query, pq.Array(names))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var descriptors []types.RoleDescriptor
	for rows.Next() {
		var (
			name string
			body []byte
		)
		if err := rows.Scan(&name, &body); err != nil {
			return nil, err
		}
		var d types.RoleDescriptor
		if err := json.Unmarshal(body, &d); err != nil {
			return nil, fmt.Errorf("malformed stored role %q: %w", name, err)
		}
		d.Name = name
		descriptors = append(descriptors, d)
	}
	return descriptors, rows.Err()
}

// RoleCount implements CountingProvider for usage statistics.
func (p *NativeRolesProvider) RoleCount(ctx context.Context) (int, error) {
	var count int
	err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM security_roles`).Scan(&count)
	return count, err
}
