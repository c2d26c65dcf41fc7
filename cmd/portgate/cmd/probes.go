package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/portgate/portgate/internal/forward"
	"github.com/portgate/portgate/internal/natpmp"
	"github.com/portgate/portgate/internal/netid"
)

var (
	probeGatewayIP string
	probeRetry     int
)

var gatewayIPCmd = &cobra.Command{
	Use:   "gateway-ip",
	Short: "Print the default route's gateway IP",
	Long:  "Read the default gateway address from the system routing table and print it.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		addr, ok := netid.DefaultGatewayIP()
		if !ok {
			return errors.New("portgate gateway-ip: no default route found")
		}
		fmt.Fprintln(cmd.OutOrStdout(), addr)
		return nil
	},
}

var hostIPCmd = &cobra.Command{
	Use:   "host-ip",
	Short: "Print the default non-loopback host IP",
	Long:  "Resolve the local hostname and print the first non-loopback address.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		addr, ok := netid.DefaultHostIP()
		if !ok {
			return errors.New("portgate host-ip: hostname does not resolve to a usable address")
		}
		fmt.Fprintln(cmd.OutOrStdout(), addr)
		return nil
	},
}

var publicIPCmd = &cobra.Command{
	Use:   "public-ip",
	Short: "Request the public IP from the gateway and print it",
	Long:  "Query the gateway for its public address over NAT-PMP and print it.",
	RunE:  runPublicIP,
}

func init() {
	rootCmd.AddCommand(gatewayIPCmd)
	rootCmd.AddCommand(hostIPCmd)
	rootCmd.AddCommand(publicIPCmd)

	publicIPCmd.Flags().StringVar(&probeGatewayIP, "gateway-ip", "", "gateway IP, inferred from the routing table if unset")
	publicIPCmd.Flags().IntVar(&probeRetry, "retry", 0, "request retransmission budget")
}

func runPublicIP(cmd *cobra.Command, _ []string) error {
	logger := setupLogger(logLevel)

	pf := map[string]any{}
	if cmd.Flags().Changed("gateway-ip") {
		pf["gateway_ip"] = probeGatewayIP
	}
	if cmd.Flags().Changed("retry") {
		pf["retry"] = probeRetry
	}
	caller := map[string]any{}
	if len(pf) > 0 {
		caller["port_forward"] = pf
	}

	forwarder := forward.NewForwarder(&natpmp.UDPClient{}, netid.DefaultGatewayIP, logger)
	ip, err := forwarder.PublicIP(cmd.Context(), caller)
	if err != nil {
		return fmt.Errorf("portgate public-ip: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), ip)
	return nil
}
