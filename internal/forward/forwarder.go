package forward

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"

	"github.com/portgate/portgate/internal/conftree"
	"github.com/portgate/portgate/internal/natpmp"
)

// Mapper abstracts the gateway protocol operations for testability.
// Both calls block until the gateway answers or the retransmission
// budget is exhausted.
type Mapper interface {
	PublicAddress(ctx context.Context, gateway netip.Addr, retry int) (natpmp.PublicAddressResponse, error)
	MapPort(ctx context.Context, gateway netip.Addr, req natpmp.MapRequest, retry int) (natpmp.MapResponse, error)
}

// GatewayProbe reports the default gateway address, or false when it
// cannot be determined.
type GatewayProbe func() (netip.Addr, bool)

// Forwarder resolves one port-forwarding request end to end. Each Run
// owns its configuration exclusively; a Forwarder holds no state across
// invocations.
type Forwarder struct {
	client Mapper
	probe  GatewayProbe
	logger *slog.Logger
}

// NewForwarder creates a new Forwarder.
func NewForwarder(client Mapper, probe GatewayProbe, logger *slog.Logger) *Forwarder {
	return &Forwarder{
		client: client,
		probe:  probe,
		logger: logger,
	}
}

// Result is the outcome of a successful resolution: the typed resolved
// configuration and the full configuration document with public_ip and
// the gateway-confirmed public_port filled in.
type Result struct {
	Config Config
	Tree   map[string]any
}

// Run resolves the caller configuration against builtin defaults,
// queries the gateway's public address, and requests the port mapping.
// It returns on the first failure: *ConfigError for unresolvable fields,
// *natpmp.ProtocolError when the gateway refuses a request, and
// *natpmp.TransportError when the gateway never answers.
func (f *Forwarder) Run(ctx context.Context, caller map[string]any) (*Result, error) {
	tree, cfg, err := f.buildEffective(caller)
	if err != nil {
		return nil, err
	}
	if cfg.ServePort < 1 || cfg.ServePort > 65535 {
		return nil, &ConfigError{Field: "serve_port", Reason: "must be set to the internally bound port"}
	}

	if cfg.PortForward.PublicPort == 0 {
		// Symmetric mapping assumption: expose the same port publicly.
		cfg.PortForward.PublicPort = cfg.ServePort
	}
	if cfg.PortForward.PublicPort < 1 || cfg.PortForward.PublicPort > 65535 {
		return nil, &ConfigError{Field: "port_forward.public_port", Reason: "must be a valid port number"}
	}
	gateway, err := f.resolveGateway(&cfg)
	if err != nil {
		return nil, err
	}

	pub, err := f.client.PublicAddress(ctx, gateway, cfg.PortForward.Retry)
	if err != nil {
		return nil, fmt.Errorf("forward: public address query: %w", err)
	}
	if pub.Result != natpmp.ResultSuccess {
		return nil, &natpmp.ProtocolError{Op: "public address", Code: pub.Result}
	}
	f.logger.Debug("public address resolved",
		"component", "forward",
		"gateway_ip", gateway.String(),
		"public_ip", pub.IP.String(),
	)

	requested := cfg.PortForward.PublicPort
	granted, err := f.client.MapPort(ctx, gateway, natpmp.MapRequest{
		InternalPort: uint16(cfg.ServePort),
		ExternalPort: uint16(requested),
		Lifetime:     uint32(cfg.PortForward.Lifetime),
	}, cfg.PortForward.Retry)
	if err != nil {
		return nil, fmt.Errorf("forward: port mapping request: %w", err)
	}
	if granted.Result != natpmp.ResultSuccess {
		return nil, &natpmp.ProtocolError{Op: "port mapping", Code: granted.Result}
	}

	// The gateway-confirmed port is authoritative, even when it differs
	// from the requested one.
	cfg.PortForward.PublicIP = pub.IP.String()
	cfg.PortForward.PublicPort = int(granted.MappedPort)

	f.logger.Info("port mapping granted",
		"component", "forward",
		"gateway_ip", gateway.String(),
		"public_ip", cfg.PortForward.PublicIP,
		"requested_port", requested,
		"public_port", cfg.PortForward.PublicPort,
		"lifetime", cfg.PortForward.Lifetime,
	)

	emit(tree, cfg)
	return &Result{Config: cfg, Tree: tree}, nil
}

// PublicIP runs only the public address query: configuration build,
// gateway resolution, then one request. Used by the probe command;
// serve_port is not required.
func (f *Forwarder) PublicIP(ctx context.Context, caller map[string]any) (netip.Addr, error) {
	_, cfg, err := f.buildEffective(caller)
	if err != nil {
		return netip.Addr{}, err
	}
	gateway, err := f.resolveGateway(&cfg)
	if err != nil {
		return netip.Addr{}, err
	}

	pub, err := f.client.PublicAddress(ctx, gateway, cfg.PortForward.Retry)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("forward: public address query: %w", err)
	}
	if pub.Result != natpmp.ResultSuccess {
		return netip.Addr{}, &natpmp.ProtocolError{Op: "public address", Code: pub.Result}
	}
	return pub.IP, nil
}

// buildEffective merges the caller tree over builtin defaults and
// validates the fields every operation needs.
func (f *Forwarder) buildEffective(caller map[string]any) (map[string]any, Config, error) {
	tree, ok := conftree.Merge(Defaults(), caller).(map[string]any)
	if !ok {
		return nil, Config{}, &ConfigError{Field: "(root)", Reason: "caller configuration is not a mapping"}
	}
	cfg, err := decodeConfig(tree)
	if err != nil {
		return nil, Config{}, err
	}
	if cfg.PortForward.Protocol != ProtocolNATPMP {
		return nil, Config{}, &ConfigError{
			Field:  "port_forward.protocol",
			Reason: fmt.Sprintf("unsupported protocol %q", cfg.PortForward.Protocol),
		}
	}
	if cfg.PortForward.Retry < 1 {
		return nil, Config{}, &ConfigError{Field: "port_forward.retry", Reason: "must be at least 1"}
	}
	if cfg.PortForward.Lifetime < 1 {
		return nil, Config{}, &ConfigError{Field: "port_forward.lifetime", Reason: "must be positive"}
	}
	return tree, cfg, nil
}

// resolveGateway fills the gateway address from the routing table probe
// when the caller did not supply one. An unknown gateway fails the
// invocation before any network request is made.
func (f *Forwarder) resolveGateway(cfg *Config) (netip.Addr, error) {
	if cfg.PortForward.GatewayIP == "" {
		gw, ok := f.probe()
		if !ok {
			return netip.Addr{}, &ConfigError{
				Field:  "port_forward.gateway_ip",
				Reason: "not set and no default route found",
			}
		}
		cfg.PortForward.GatewayIP = gw.String()
		f.logger.Debug("gateway resolved from routing table",
			"component", "forward",
			"gateway_ip", cfg.PortForward.GatewayIP,
		)
		return gw, nil
	}

	gw, err := netip.ParseAddr(cfg.PortForward.GatewayIP)
	if err != nil {
		return netip.Addr{}, &ConfigError{
			Field:  "port_forward.gateway_ip",
			Reason: fmt.Sprintf("invalid address %q", cfg.PortForward.GatewayIP),
		}
	}
	return gw, nil
}

// emit writes the resolved fields back into the effective tree. This is
// the single point where resolved values overwrite caller placeholders.
func emit(tree map[string]any, cfg Config) {
	pf, ok := tree["port_forward"].(map[string]any)
	if !ok {
		pf = map[string]any{}
		tree["port_forward"] = pf
	}
	tree["serve_port"] = cfg.ServePort
	pf["gateway_ip"] = cfg.PortForward.GatewayIP
	pf["public_ip"] = cfg.PortForward.PublicIP
	pf["public_port"] = cfg.PortForward.PublicPort
}
