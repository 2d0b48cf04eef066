// Package rolestore resolves request identities into effective roles by
// looking up role descriptors across an ordered set of sources, merging them
// into one permission object, and caching the result under concurrent
// invalidation.
package rolestore

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/authz-engine/roles-core/pkg/types"
)

// RoleRetrievalResult is a single provider's answer for one name set. Err is
// set when the provider itself failed; names the provider simply does not
// know are just absent from Descriptors.
type RoleRetrievalResult struct {
	Descriptors []types.RoleDescriptor
	Err         error
}

// RolesProvider resolves a set of role names to descriptors. Providers are
// asynchronous: implementations may invoke the listener from another
// goroutine. Each provider only receives names that no higher-priority
// provider resolved.
type RolesProvider interface {
	RetrieveRoles(ctx context.Context, names []string, listener func(RoleRetrievalResult))
}

// CountingProvider is implemented by providers that can report how many
// roles they hold, for the usage statistics surface.
type CountingProvider interface {
	RoleCount(ctx context.Context) (int, error)
}

// FeatureChecker gates custom role providers on a license feature.
type FeatureChecker interface {
	IsAllowed(feature string) bool
}

// FeatureCheckerFunc adapts a function to the FeatureChecker interface.
type FeatureCheckerFunc func(feature string) bool

// IsAllowed implements FeatureChecker.
func (f FeatureCheckerFunc) IsAllowed(feature string) bool { return f(feature) }

// AllowAllFeatures permits every license-gated feature.
var AllowAllFeatures = FeatureCheckerFunc(func(string) bool { return true })

// CustomProvider is an extension role provider gated by a license feature.
type CustomProvider struct {
	Name     string
	Feature  string
	Provider RolesProvider
}

// ChangeListener observes role definition changes in the underlying
// providers so dependent caches can be invalidated.
type ChangeListener interface {
	// RolesChanged is called with the names whose definitions changed.
	RolesChanged(names []string)
	// ProvidersChanged is called when the provider set itself changed.
	ProvidersChanged()
}

// providerEntry is one slot of the waterfall.
type providerEntry struct {
	name     string
	feature  string // empty when not license gated
	provider RolesProvider
}

// RoleProviders is the ordered waterfall of role-name sources: reserved
// roles, file roles, native (stored) roles, then custom extensions.
type RoleProviders struct {
	logger *zap.Logger

	reserved *ReservedRolesProvider
	file     *FileRolesProvider
	native   RolesProvider
	checker  FeatureChecker

	mu        sync.RWMutex
	customs   []CustomProvider
	listeners []ChangeListener
}

// RoleProvidersConfig assembles a provider waterfall. Reserved is required;
// the rest are optional.
type RoleProvidersConfig struct {
	Reserved       *ReservedRolesProvider
	File           *FileRolesProvider
	Native         RolesProvider
	Customs        []CustomProvider
	FeatureChecker FeatureChecker
	Logger         *zap.Logger
}

// NewRoleProviders creates the waterfall in fixed priority order.
func NewRoleProviders(cfg RoleProvidersConfig) *RoleProviders {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	reserved := cfg.Reserved
	if reserved == nil {
		reserved = NewReservedRolesProvider()
	}
	checker := cfg.FeatureChecker
	if checker == nil {
		checker = AllowAllFeatures
	}
	p := &RoleProviders{
		logger:   logger,
		reserved: reserved,
		file:     cfg.File,
		native:   cfg.Native,
		checker:  checker,
		customs:  cfg.Customs,
	}
	if p.file != nil {
		p.file.OnRolesChanged(func(names []string) {
			p.notifyRolesChanged(names)
		})
	}
	return p
}

// entries returns the waterfall in priority order, excluding custom
// providers whose license feature is currently disallowed. Disabled customs
// contribute nothing to resolution; the skip is a policy outcome, not a
// failure.
func (p *RoleProviders) entries() []providerEntry {
	p.mu.RLock()
	defer p.mu.RUnlock()

	entries := []providerEntry{{name: "reserved", provider: p.reserved}}
	if p.file != nil {
		entries = append(entries, providerEntry{name: "file", provider: p.file})
	}
	if p.native != nil {
		entries = append(entries, providerEntry{name: "native", provider: p.native})
	}
	for _, c := range p.customs {
		if c.Feature != "" && !p.checker.IsAllowed(c.Feature) {
			p.logger.Debug("skipping custom role provider, license feature disallowed",
				zap.String("provider", c.Name),
				zap.String("feature", c.Feature),
			)
			continue
		}
		entries = append(entries, providerEntry{name: c.Name, feature: c.Feature, provider: c.Provider})
	}
	return entries
}

// SetCustomProviders replaces the custom provider set and notifies change
// listeners so all caches are invalidated.
func (p *RoleProviders) SetCustomProviders(customs []CustomProvider) {
	p.mu.Lock()
	p.customs = customs
	listeners := make([]ChangeListener, len(p.listeners))
	copy(listeners, p.listeners)
	p.mu.Unlock()

	for _, l := range listeners {
		l.ProvidersChanged()
	}
}

// AddChangeListener registers a listener for role definition changes.
func (p *RoleProviders) AddChangeListener(l ChangeListener) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, l)
}

func (p *RoleProviders) notifyRolesChanged(names []string) {
	p.mu.RLock()
	listeners := make([]ChangeListener, len(p.listeners))
	copy(listeners, p.listeners)
	p.mu.RUnlock()

	for _, l := range listeners {
		l.RolesChanged(names)
	}
}

// UsageStats reports per-provider statistics: role counts where providers
// can count, and the enablement state of license-gated custom providers.
func (p *RoleProviders) UsageStats(ctx context.Context, listener func(map[string]interface{}, error)) {
	p.mu.RLock()
	file := p.file
	native := p.native
	customs := make([]CustomProvider, len(p.customs))
	copy(customs, p.customs)
	p.mu.RUnlock()

	stats := map[string]interface{}{
		"reserved": map[string]interface{}{"size": p.reserved.Count()},
	}
	if file != nil {
		stats["file"] = map[string]interface{}{"size": file.Count()}
	}
	customStats := map[string]interface{}{}
	for _, c := range customs {
		enabled := c.Feature == "" || p.checker.IsAllowed(c.Feature)
		customStats[c.Name] = map[string]interface{}{"enabled": enabled}
	}
	if len(customStats) > 0 {
		stats["custom"] = customStats
	}

	counter, ok := native.(CountingProvider)
	if native == nil || !ok {
		listener(stats, nil)
		return
	}
	go func() {
		count, err := counter.RoleCount(ctx)
		nativeStats := map[string]interface{}{"available": err == nil}
		if err == nil {
			nativeStats["size"] = count
		} else {
			p.logger.Warn("failed to count native roles", zap.Error(err))
		}
		stats["native"] = nativeStats
		listener(stats, nil)
	}()
}
