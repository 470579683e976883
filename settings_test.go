package zkgroup

import (
	"testing"
	"time"
)

func validSettings() Settings {
	s := DefaultSettings()
	s.ServiceName = "billing"
	s.NodeName = "default"
	s.Host = "10.0.0.5"
	s.Port = 9001
	s.ConnectionString = "127.0.0.1:2181, 127.0.0.2:2181"
	return s
}

func TestSettingsValid(t *testing.T) {
	if err := validSettings().Validate(); err != nil {
		t.Fatalf("settings should be valid: %v", err)
	}
}

func TestSettingsInvalid(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Settings)
	}{
		{"empty service", func(s *Settings) { s.ServiceName = " " }},
		{"empty node", func(s *Settings) { s.NodeName = "" }},
		{"empty host", func(s *Settings) { s.Host = "" }},
		{"port zero", func(s *Settings) { s.Port = 0 }},
		{"port too large", func(s *Settings) { s.Port = 70000 }},
		{"empty connection string", func(s *Settings) { s.ConnectionString = "" }},
		{"zero operation timeout", func(s *Settings) { s.OperationTimeout = 0 }},
		{"zero backoff base", func(s *Settings) { s.RetryBackoffBase = 0 }},
		{"ceiling below base", func(s *Settings) { s.RetryBackoffMax = s.RetryBackoffBase / 2 }},
		{"zero grace", func(s *Settings) { s.ShutdownGrace = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := validSettings()
			tc.mutate(&s)
			if err := s.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestSettingsServers(t *testing.T) {
	s := validSettings()
	servers := s.Servers()
	if len(servers) != 2 || servers[0] != "127.0.0.1:2181" || servers[1] != "127.0.0.2:2181" {
		t.Fatalf("unexpected servers: %v", servers)
	}
}

func TestDefaultSettingsTimings(t *testing.T) {
	s := DefaultSettings()
	if s.RetryBackoffMax < s.RetryBackoffBase {
		t.Fatalf("default ceiling below base")
	}
	if s.OperationTimeout <= 0 || s.ShutdownGrace <= 0 {
		t.Fatalf("default timeouts must be positive")
	}
	if s.OperationTimeout != 10*time.Second {
		t.Fatalf("unexpected default operation timeout %v", s.OperationTimeout)
	}
}
