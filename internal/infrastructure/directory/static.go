// Package directory resolves role and manager approver references from configuration.
package directory

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/garyjia/approval-core/internal/application/port"
)

// Config describes the organisation known to the static directory
type Config struct {
	// Roles maps a role name to its members
	Roles map[string][]string
	// Managers maps a user to their direct manager
	Managers map[string]string
	// ManagerDepth is how many levels of the chain become approvers. Defaults to 1.
	ManagerDepth int
}

// Static implements port.ApproverResolver over an in-memory organisation chart.
// Keys are matched case-insensitively since viper lower-cases map keys.
type Static struct {
	roles    map[string][]string
	managers map[string]string
	depth    int
	logger   *zap.Logger
}

// NewStatic creates a resolver from configuration
func NewStatic(cfg Config, logger *zap.Logger) *Static {
	s := &Static{
		roles:    make(map[string][]string, len(cfg.Roles)),
		managers: make(map[string]string, len(cfg.Managers)),
		depth:    cfg.ManagerDepth,
		logger:   logger,
	}
	if s.depth <= 0 {
		s.depth = 1
	}

	for role, members := range cfg.Roles {
		s.roles[normalize(role)] = append([]string(nil), members...)
	}
	for user, manager := range cfg.Managers {
		s.managers[normalize(user)] = strings.TrimSpace(manager)
	}

	logger.Info("Static directory loaded",
		zap.Int("roles", len(s.roles)),
		zap.Int("managers", len(s.managers)),
		zap.Int("manager_depth", s.depth))
	return s
}

// ResolveRole returns the members of a role, or none when the role is unknown
func (s *Static) ResolveRole(ctx context.Context, role string) ([]string, error) {
	members, ok := s.roles[normalize(role)]
	if !ok {
		s.logger.Warn("Unknown role", zap.String("role", role))
		return nil, nil
	}
	return append([]string(nil), members...), nil
}

// ResolveManagerChain walks up from the user's direct manager, stopping at the
// configured depth, at the top of the chart, or on a cycle
func (s *Static) ResolveManagerChain(ctx context.Context, userID string) ([]string, error) {
	var chain []string
	seen := map[string]bool{normalize(userID): true}

	current := userID
	for len(chain) < s.depth {
		manager, ok := s.managers[normalize(current)]
		if !ok || manager == "" {
			break
		}
		if seen[normalize(manager)] {
			s.logger.Warn("Manager chain contains a cycle",
				zap.String("user_id", userID),
				zap.String("manager", manager))
			break
		}
		seen[normalize(manager)] = true
		chain = append(chain, manager)
		current = manager
	}
	return chain, nil
}

func normalize(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// Verify interface compliance
var _ port.ApproverResolver = (*Static)(nil)
