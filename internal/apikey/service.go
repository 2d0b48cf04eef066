// Package apikey parses the role descriptor payloads stored on API key
// documents.
package apikey

import (
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/authz-engine/roles-core/internal/subject"
	"github.com/authz-engine/roles-core/pkg/types"
)

// Service decodes API key role descriptor payloads. Both encodings are maps
// keyed by role name; the byte form is the serialized JSON of the same map.
type Service struct {
	logger *zap.Logger
}

// NewService creates the parsing service.
func NewService(logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{logger: logger}
}

// ParseRoleDescriptors decodes the byte-encoded payload of one side of an
// API key's roles. A nil or empty-object payload yields no descriptors.
func (s *Service) ParseRoleDescriptors(
	apiKeyID string,
	payload []byte,
	roleType subject.ApiKeyRoleType,
) ([]types.RoleDescriptor, error) {
	if len(payload) == 0 || string(payload) == "{}" {
		return nil, nil
	}
	var byName map[string]types.RoleDescriptor
	if err := json.Unmarshal(payload, &byName); err != nil {
		s.logger.Warn("malformed API key role descriptors",
			zap.String("api_key_id", apiKeyID),
			zap.String("role_type", roleType.String()),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to parse role descriptors of API key [%s]: %w", apiKeyID, err)
	}
	return descriptorsFromMap(byName), nil
}

// ParseRoleDescriptorsMap decodes the legacy map-encoded payload used before
// the byte-serialization cutover.
func (s *Service) ParseRoleDescriptorsMap(
	apiKeyID string,
	payload map[string]interface{},
	roleType subject.ApiKeyRoleType,
) ([]types.RoleDescriptor, error) {
	if len(payload) == 0 {
		return nil, nil
	}
	// Round-trip through JSON keeps one decoding path for both encodings.
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to re-encode legacy role descriptors of API key [%s]: %w", apiKeyID, err)
	}
	return s.ParseRoleDescriptors(apiKeyID, raw, roleType)
}

func descriptorsFromMap(byName map[string]types.RoleDescriptor) []types.RoleDescriptor {
	descriptors := make([]types.RoleDescriptor, 0, len(byName))
	for name, d := range byName {
		if d.Name == "" {
			d.Name = name
		}
		descriptors = append(descriptors, d)
	}
	return descriptors
}
