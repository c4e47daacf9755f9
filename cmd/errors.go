package cmd

import (
	"strings"

	"github.com/Azure/testbed-copilot/pkg/logger"
)

// isDockerUnavailable checks if the error comes from a docker CLI that cannot
// reach its daemon
func isDockerUnavailable(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "Cannot connect to the Docker daemon") ||
		strings.Contains(errStr, "docker: command not found") ||
		strings.Contains(errStr, "executable file not found") ||
		strings.Contains(errStr, "docker is not available")
}

// printDockerHelp displays guidance when builds cannot start at all
func printDockerHelp() {
	logger.Error("\n🔧 Troubleshooting Docker:")
	logger.Error("   • Make sure the docker CLI is installed and on PATH")
	logger.Error("   • Start the Docker daemon (or Docker Desktop) and retry")
	logger.Error("   • Check that your user may access /var/run/docker.sock")
	logger.Error("\n💡 Tip:")
	logger.Error("   Run 'docker version' to confirm both client and server respond")
	logger.Error("")
}
