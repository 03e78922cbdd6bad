package config

import (
	"fmt"
	"net"
	"strings"
)

// Validate validates configuration values.
// Returns sentinel errors that can be checked with errors.Is().
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	// Listen address must be host:port parseable
	if c.ListenAddr == "" {
		return fmt.Errorf("%w: listen_addr cannot be empty", ErrInvalidListenAddr)
	}
	if _, _, err := net.SplitHostPort(c.ListenAddr); err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidListenAddr, c.ListenAddr, err)
	}

	// Agent binary: a bare command name (resolved via PATH) or a path.
	// Whitespace-only values are configuration mistakes.
	if strings.TrimSpace(c.AgentBin) == "" {
		return fmt.Errorf("%w: agent_bin cannot be empty", ErrInvalidAgentBin)
	}

	if c.AgentBasePort < 1024 || c.AgentBasePort > 65535 {
		return fmt.Errorf("%w: must be between 1024 and 65535, got %d",
			ErrInvalidAgentPort, c.AgentBasePort)
	}

	if c.AgentPortAttempts < 1 || c.AgentPortAttempts > MaxAgentPortAttempts {
		return fmt.Errorf("%w: must be between 1 and %d, got %d",
			ErrInvalidPortAttempts, MaxAgentPortAttempts, c.AgentPortAttempts)
	}

	// The scan must stay inside the valid port range.
	if c.AgentBasePort+c.AgentPortAttempts > 65536 {
		return fmt.Errorf("%w: base port %d + %d attempts exceeds 65535",
			ErrInvalidAgentPort, c.AgentBasePort, c.AgentPortAttempts)
	}

	if strings.TrimSpace(c.WorkspaceRoot) == "" {
		return fmt.Errorf("%w: workspace_root cannot be empty", ErrInvalidWorkspaceRoot)
	}

	if c.RateBurst < 0 || c.RateBurst > 10000 {
		return fmt.Errorf("%w: must be between 0 and 10000, got %d",
			ErrInvalidRateBurst, c.RateBurst)
	}

	return nil
}
