package cmd

import (
	"os"
	"time"

	"github.com/briandowns/spinner"

	"github.com/Azure/testbed-copilot/pkg/logger"
)

// progress shows a spinner on stderr while a slow step runs. In CI it only
// logs the step.
type progress struct {
	spinner *spinner.Spinner
}

func startProgress(message string) *progress {
	if os.Getenv("CI") == "true" {
		logger.Info(message)
		return &progress{}
	}
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
	s.Prefix = "Progress: "
	s.Suffix = " " + message
	s.Color("cyan", "bold")
	s.Start()
	return &progress{spinner: s}
}

func (p *progress) Stop() {
	if p.spinner != nil {
		p.spinner.Stop()
	}
}
