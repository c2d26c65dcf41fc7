package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/portgate/portgate/internal/conftree"
	"github.com/portgate/portgate/internal/forward"
	"github.com/portgate/portgate/internal/natpmp"
	"github.com/portgate/portgate/internal/netid"
)

var (
	yamlFromStdin bool
	yamlToStdout  bool
	silent        bool
	servePort     int
	publicPort    int
	gatewayIP     string
	protocol      string
	lifetime      int
	retryCount    int
)

var forwardCmd = &cobra.Command{
	Use:   "forward",
	Short: "Resolve the public address and request a port mapping",
	Long: "Resolve the effective configuration, query the gateway's public address,\n" +
		"and request a port mapping so the serve port is reachable on the public\n" +
		"port. Prints \"publicIP:publicPort\" on success; with --yaml-to-stdout the\n" +
		"full resolved configuration is printed instead, merged from stdin YAML if\n" +
		"--yaml-from-stdin. Suitable for piping, eg.:\n" +
		"  printf 'serve_port: 48443\\n' | portgate forward --yaml-from-stdin --yaml-to-stdout",
	RunE: runForward,
}

func init() {
	rootCmd.AddCommand(forwardCmd)

	forwardCmd.Flags().BoolVar(&yamlFromStdin, "yaml-from-stdin", false, "read configuration YAML from stdin")
	forwardCmd.Flags().BoolVar(&yamlToStdout, "yaml-to-stdout", false, "print the resolved configuration YAML to stdout")
	forwardCmd.Flags().BoolVar(&silent, "silent", false, "print nothing to stdout, just exit 0 on success")
	forwardCmd.Flags().IntVar(&servePort, "serve-port", 0, "internal port to be forwarded to")
	forwardCmd.Flags().IntVar(&publicPort, "public-port", 0, "public port of incoming packets, set to serve-port if unset")
	forwardCmd.Flags().StringVar(&gatewayIP, "gateway-ip", "", "gateway IP, inferred from the routing table if unset")
	forwardCmd.Flags().StringVar(&protocol, "protocol", "natpmp", "port forwarding protocol (natpmp)")
	forwardCmd.Flags().IntVar(&lifetime, "lifetime", 0, "mapping lifetime in seconds")
	forwardCmd.Flags().IntVar(&retryCount, "retry", 0, "request retransmission budget")
}

func runForward(cmd *cobra.Command, _ []string) error {
	logger := setupLogger(logLevel)

	caller, err := callerConfig(cmd)
	if err != nil {
		return err
	}

	forwarder := forward.NewForwarder(&natpmp.UDPClient{}, netid.DefaultGatewayIP, logger)
	result, err := forwarder.Run(cmd.Context(), caller)
	if err != nil {
		return fmt.Errorf("portgate forward: %w", err)
	}

	switch {
	case silent:
	case yamlToStdout:
		if err := conftree.Encode(cmd.OutOrStdout(), result.Tree); err != nil {
			return fmt.Errorf("portgate forward: %w", err)
		}
	default:
		fmt.Fprintf(cmd.OutOrStdout(), "%s:%d\n",
			result.Config.PortForward.PublicIP, result.Config.PortForward.PublicPort)
	}
	return nil
}

// callerConfig assembles the caller configuration tree: the stdin YAML
// document (when requested) with flag overrides layered on top.
func callerConfig(cmd *cobra.Command) (map[string]any, error) {
	caller := map[string]any{}

	if yamlFromStdin {
		tree, err := conftree.Decode(cmd.InOrStdin())
		if err != nil {
			return nil, fmt.Errorf("portgate forward: %w", err)
		}
		if len(tree) == 0 {
			return nil, errors.New("portgate forward: --yaml-from-stdin supplied, but no data on stdin")
		}
		if _, ok := tree["serve_port"]; !ok && !cmd.Flags().Changed("serve-port") {
			return nil, errors.New("portgate forward: serve_port must be part of stdin configuration")
		}
		caller = tree
	} else if !cmd.Flags().Changed("serve-port") {
		return nil, errors.New("portgate forward: one of --serve-port or --yaml-from-stdin is required")
	}

	merged, ok := conftree.Merge(caller, flagOverrides(cmd)).(map[string]any)
	if !ok {
		return nil, errors.New("portgate forward: stdin configuration is not a mapping")
	}
	return merged, nil
}

// flagOverrides builds a configuration tree holding only the flags the
// user explicitly set, so unset flags never mask stdin values.
func flagOverrides(cmd *cobra.Command) map[string]any {
	tree := map[string]any{}
	if cmd.Flags().Changed("serve-port") {
		tree["serve_port"] = servePort
	}

	pf := map[string]any{}
	if cmd.Flags().Changed("public-port") {
		pf["public_port"] = publicPort
	}
	if cmd.Flags().Changed("gateway-ip") {
		pf["gateway_ip"] = gatewayIP
	}
	if cmd.Flags().Changed("protocol") {
		pf["protocol"] = protocol
	}
	if cmd.Flags().Changed("lifetime") {
		pf["lifetime"] = lifetime
	}
	if cmd.Flags().Changed("retry") {
		pf["retry"] = retryCount
	}
	if len(pf) > 0 {
		tree["port_forward"] = pf
	}
	return tree
}
