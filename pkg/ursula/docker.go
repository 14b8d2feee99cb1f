package ursula

import (
	"fmt"
	"strings"
)

// containerName is the conventional name for the local worker container.
const containerName = "ursula"

// RunCommand renders the docker invocation that starts a worker from a
// node config. The keystore and wallet passwords travel via environment
// variables so they never land in shell history.
func RunCommand(cfg *Config) string {
	var b strings.Builder
	b.WriteString("docker run -d --restart unless-stopped")
	fmt.Fprintf(&b, " --name %s", containerName)
	fmt.Fprintf(&b, " -p %d:%d", cfg.RestPort, cfg.RestPort)
	if cfg.PrometheusPort != 0 {
		fmt.Fprintf(&b, " -p %d:%d", cfg.PrometheusPort, cfg.PrometheusPort)
	}
	b.WriteString(" -v ~/.local/share/nucypher:/root/.local/share/nucypher")
	b.WriteString(" -e NUCYPHER_KEYSTORE_PASSWORD -e NUCYPHER_OPERATOR_ETH_PASSWORD")
	fmt.Fprintf(&b, " %s nucypher ursula run", cfg.Image)
	fmt.Fprintf(&b, " --network %s", cfg.Network)
	fmt.Fprintf(&b, " --eth-provider %s", cfg.BlockchainProvider)
	fmt.Fprintf(&b, " --operator-address %s", cfg.WorkerAddress)
	fmt.Fprintf(&b, " --rest-port %d", cfg.RestPort)
	if cfg.SeedURI != "" {
		fmt.Fprintf(&b, " --teacher %s", cfg.SeedURI)
	}
	b.WriteString(" --no-interactive")
	return b.String()
}

// StopCommand renders the docker invocation that stops and removes the
// worker container.
func StopCommand() string {
	return fmt.Sprintf("docker stop %s && docker rm %s", containerName, containerName)
}
