// Package forward orchestrates a single port-forwarding resolution:
// it layers caller configuration over builtin defaults, fills unset
// network identity fields, and drives the public address query and
// port mapping request against the gateway.
package forward

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// ProtocolNATPMP is the only supported port-forwarding protocol.
const ProtocolNATPMP = "natpmp"

// DefaultLifetime is the default mapping lifetime in seconds.
const DefaultLifetime = 3600

// DefaultRetry is the default per-request retransmission budget.
const DefaultRetry = 9

// Config is the typed view of the effective configuration tree.
// Zero values mean "unset": ports are never 0 and addresses never empty
// in a resolved configuration.
type Config struct {
	// ServePort is the internally bound port to be exposed.
	ServePort int `yaml:"serve_port"`

	PortForward PortForward `yaml:"port_forward"`
}

// PortForward holds the gateway-facing half of the configuration.
type PortForward struct {
	// Protocol is the port-forwarding protocol. Only "natpmp" is supported.
	Protocol string `yaml:"protocol"`

	// GatewayIP is the gateway address; inferred from the routing table
	// when unset.
	GatewayIP string `yaml:"gateway_ip"`

	// PublicIP is output-only: the gateway's public address after a
	// successful query.
	PublicIP string `yaml:"public_ip"`

	// PublicPort is the requested public port; defaults to ServePort.
	// After a successful mapping it holds the gateway-confirmed port.
	PublicPort int `yaml:"public_port"`

	// Lifetime is the mapping lifetime in seconds.
	Lifetime int `yaml:"lifetime"`

	// Retry is the per-request retransmission budget.
	Retry int `yaml:"retry"`
}

// Defaults returns the builtin configuration tree that caller
// configuration is layered over. A fresh tree is returned on every call
// so no invocation can observe another's mutations.
func Defaults() map[string]any {
	return map[string]any{
		"serve_port": nil,
		"port_forward": map[string]any{
			"protocol":    ProtocolNATPMP,
			"gateway_ip":  nil,
			"public_ip":   nil,
			"public_port": nil,
			"lifetime":    DefaultLifetime,
			"retry":       DefaultRetry,
		},
	}
}

// decodeConfig projects a generic configuration tree onto the typed view.
func decodeConfig(tree map[string]any) (Config, error) {
	data, err := yaml.Marshal(tree)
	if err != nil {
		return Config{}, fmt.Errorf("forward: config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("forward: config: %w", err)
	}
	return cfg, nil
}
