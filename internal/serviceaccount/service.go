// Package serviceaccount holds the fixed role descriptors of service
// account principals.
package serviceaccount

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/authz-engine/roles-core/pkg/types"
)

// descriptors is the closed set of service accounts. Each account carries
// exactly one descriptor; there is no dynamic registration.
var descriptors = map[string]types.RoleDescriptor{
	"elastic/fleet-server": {
		Name:    "elastic/fleet-server",
		Cluster: []string{"monitor", "manage_own_api_key"},
		Indices: []types.IndicesPrivileges{
			{
				Names: []string{
					"logs-*", "metrics-*", "traces-*", "synthetics-*",
					".logs-endpoint.diagnostic.collection-*",
				},
				Privileges: []string{"write", "create_index", "auto_configure"},
			},
			{
				Names:      []string{".fleet-*"},
				Privileges: []string{"read", "write", "monitor", "create_index", "auto_configure"},
			},
		},
	},
	"elastic/kibana-system": {
		Name:    "elastic/kibana-system",
		Cluster: []string{"monitor", "manage_index_templates"},
		Indices: []types.IndicesPrivileges{
			{
				Names:                  []string{".kibana*", ".reporting-*"},
				Privileges:             []string{"all"},
				AllowRestrictedIndices: true,
			},
		},
	},
}

// Service resolves service account principals to their fixed descriptors.
type Service struct {
	logger *zap.Logger
}

// NewService creates the service account resolver.
func NewService(logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{logger: logger}
}

// GetRoleDescriptor resolves a principal. Unknown principals are an error;
// service accounts are a closed set and a miss means a misconfigured caller.
func (s *Service) GetRoleDescriptor(_ context.Context, principal string, listener func(types.RoleDescriptor, error)) {
	d, ok := descriptors[principal]
	if !ok {
		s.logger.Warn("unknown service account", zap.String("principal", principal))
		listener(types.RoleDescriptor{}, fmt.Errorf("the [%s] service account does not exist", principal))
		return
	}
	listener(d, nil)
}

// Principals returns the known service account principals, sorted.
func Principals() []string {
	out := make([]string, 0, len(descriptors))
	for p := range descriptors {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
