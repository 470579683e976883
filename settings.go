package zkgroup

import (
	"fmt"
	"strings"
	"time"
)

// Settings configure one group member. Validate before use; a Guardian
// rejects invalid settings at construction.
type Settings struct {
	// ServiceName groups members that answer lookups for each other.
	ServiceName string
	// NodeName is the group node under the service; members register
	// beneath it.
	NodeName string
	// Host is this process's public hostname or IP, advertised to peers.
	// Wildcard addresses are rejected.
	Host string
	// Port is this process's public port.
	Port int
	// ConnectionString lists store server addresses, comma-separated.
	ConnectionString string

	// OperationTimeout bounds every individual store operation.
	OperationTimeout time.Duration
	// RetryBackoffBase scales the linear retry backoff (base * attempt).
	RetryBackoffBase time.Duration
	// RetryBackoffMax clamps the retry backoff.
	RetryBackoffMax time.Duration
	// ShutdownGrace bounds teardown; past it the host may force-terminate.
	ShutdownGrace time.Duration
}

// DefaultSettings returns timing defaults; identity fields must still be
// filled in by the caller.
func DefaultSettings() Settings {
	return Settings{
		OperationTimeout: 10 * time.Second,
		RetryBackoffBase: 1 * time.Second,
		RetryBackoffMax:  30 * time.Second,
		ShutdownGrace:    5 * time.Second,
	}
}

// Validate ensures settings values are safe.
func (s Settings) Validate() error {
	if strings.TrimSpace(s.ServiceName) == "" {
		return fmt.Errorf("ServiceName must not be empty")
	}
	if strings.TrimSpace(s.NodeName) == "" {
		return fmt.Errorf("NodeName must not be empty")
	}
	if strings.TrimSpace(s.Host) == "" {
		return fmt.Errorf("Host must not be empty")
	}
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("Port must be in [1,65535], got %d", s.Port)
	}
	if strings.TrimSpace(s.ConnectionString) == "" {
		return fmt.Errorf("ConnectionString must not be empty")
	}
	if s.OperationTimeout <= 0 {
		return fmt.Errorf("OperationTimeout must be >0")
	}
	if s.RetryBackoffBase <= 0 {
		return fmt.Errorf("RetryBackoffBase must be >0")
	}
	if s.RetryBackoffMax <= 0 {
		return fmt.Errorf("RetryBackoffMax must be >0")
	}
	if s.RetryBackoffMax < s.RetryBackoffBase {
		return fmt.Errorf("RetryBackoffMax must be >= RetryBackoffBase")
	}
	if s.ShutdownGrace <= 0 {
		return fmt.Errorf("ShutdownGrace must be >0")
	}
	return nil
}

// Servers splits the connection string into individual server addresses.
func (s Settings) Servers() []string {
	parts := strings.Split(s.ConnectionString, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// GroupPath is the store path this member's group lives under.
func (s Settings) GroupPath() string {
	return BuildPath(DefaultNamespace, s.ServiceName, s.NodeName)
}
