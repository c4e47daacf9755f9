package analyzer

import (
	"fmt"
	"regexp"

	"github.com/Azure/testbed-copilot/pkg/recipe"
)

const (
	buildSuccessMarker = "Image built successfully"
	buildFailureMarker = "Error building image"

	initFailedMarker  = ">>>>> Init Failed"
	installFailMarker = "INSTALL_FAIL"

	// Written by the harness when the test command could not be executed.
	testsErroredMarker = ">>>>> Tests Errored"

	testStartMarker   = ">>>>> Start Test Output"
	testEndMarker     = ">>>>> End Test Output"
	// Prefix of the command lines the eval script echoes before running them.
	commandEchoPrefix = "+ "

	runTimeoutMarker = "Timeout error"

	// Lower bound in seconds for the raised run timeout. The loop at least
	// doubles the current limit.
	timeoutIncrease = "600"
	fallbackNode    = "18"
)

var testRunnerMarkers = []string{"npm test", "jest", "mocha", "vitest", "Test Suites"}

type signature struct {
	kind ErrorKind
	re   *regexp.Regexp
	// message and fix receive the submatches of re.
	message func(m []string) string
	fix     func(m []string) *recipe.FixDirective
}

func text(s string) func([]string) string {
	return func([]string) string { return s }
}

func directive(kind recipe.FixKind, field, value, reason string) func([]string) *recipe.FixDirective {
	return func([]string) *recipe.FixDirective {
		return &recipe.FixDirective{Kind: kind, Field: field, Value: value, Reason: reason}
	}
}

// First match wins. Specific signatures precede catch-alls.
var buildSignatures = []signature{
	{
		kind:    MissingPackage,
		re:      regexp.MustCompile(`E: Unable to locate package (\S+)`),
		message: func(m []string) string { return fmt.Sprintf("Missing system package: %s", m[1]) },
		fix: func(m []string) *recipe.FixDirective {
			return &recipe.FixDirective{
				Kind:   recipe.RemoveAptPackage,
				Field:  recipe.FieldAptPkgs,
				Value:  m[1],
				Reason: "Package not found in apt repositories",
			}
		},
	},
	{
		kind:    NodeNotFound,
		re:      regexp.MustCompile(`node: (not found|command not found)`),
		message: text("Node.js installation failed"),
		fix:     directive(recipe.ChangeVersion, recipe.FieldNodeVersion, fallbackNode, "Fallback to stable Node version"),
	},
	{
		kind:    NpmNotFound,
		re:      regexp.MustCompile(`npm: (not found|command not found)`),
		message: text("Node.js installation failed"),
		fix:     directive(recipe.ChangeVersion, recipe.FieldNodeVersion, fallbackNode, "Fallback to stable Node version"),
	},
	{
		kind:    PermissionDenied,
		re:      regexp.MustCompile(`(EACCES|Permission denied)`),
		message: text("Permission denied during build"),
	},
	{
		kind:    NetworkTimeout,
		re:      regexp.MustCompile(`(network timeout|ETIMEDOUT|ECONNREFUSED)`),
		message: text("Network timeout during build"),
		fix:     directive(recipe.Retry, "", "", "Transient network error"),
	},
}

var installSignatures = []signature{
	{
		kind:    MissingModule,
		re:      regexp.MustCompile(`Cannot find module '([^']+)'`),
		message: func(m []string) string { return fmt.Sprintf("Missing module: %s", m[1]) },
		fix: func(m []string) *recipe.FixDirective {
			return &recipe.FixDirective{
				Kind:   recipe.AddCommand,
				Field:  recipe.FieldInstall,
				Value:  "npm install " + m[1],
				Reason: fmt.Sprintf("Module %s not found", m[1]),
			}
		},
	},
	{
		kind:    VersionConflict,
		re:      regexp.MustCompile(`ERESOLVE unable to resolve dependency tree`),
		message: text("Dependency version conflict"),
		fix:     directive(recipe.AddNpmFlag, recipe.FieldInstall, "--legacy-peer-deps", "Resolve peer dependency conflicts"),
	},
	{
		kind:    MissingPython,
		re:      regexp.MustCompile(`python.*not found`),
		message: text("Python not found (needed for native modules)"),
		fix:     directive(recipe.AddAptPackage, recipe.FieldAptPkgs, "python3", "Required for node-gyp"),
	},
	{
		kind:    GypError,
		re:      regexp.MustCompile(`gyp ERR!`),
		message: text("node-gyp compilation error"),
		fix:     directive(recipe.AddAptPackage, recipe.FieldAptPkgs, "build-essential", "Required for native module compilation"),
	},
	{
		kind:    NpmError,
		re:      regexp.MustCompile(`npm ERR! (.+)`),
		message: func(m []string) string { return fmt.Sprintf("npm error: %s", m[1]) },
	},
	{
		kind:    MissingBinary,
		re:      regexp.MustCompile(`(command not found|cannot execute binary file)`),
		message: text("Required binary missing"),
	},
}

var testSignatures = []signature{
	{
		kind:    Timeout,
		re:      regexp.MustCompile(`Timeout (error|exceeded)`),
		message: text("Test execution timed out"),
		fix:     directive(recipe.IncreaseTimeout, recipe.FieldTimeout, timeoutIncrease, "Tests taking longer than expected"),
	},
	{
		kind:    ChromiumMissing,
		re:      regexp.MustCompile(`(Chromium|Chrome).*not found`),
		message: text("Chromium browser not found"),
		fix:     directive(recipe.AddAptPackage, recipe.FieldAptPkgs, "chromium", "Required for browser tests"),
	},
	{
		kind:    DisplayError,
		re:      regexp.MustCompile(`(DISPLAY|X11|xvfb)`),
		message: text("Display/X11 error"),
		fix:     directive(recipe.AddAptPackage, recipe.FieldAptPkgs, "xvfb", "Required for headless browser tests"),
	},
}

// match returns the first signature matching content.
func match(sigs []signature, content string) (Result, bool) {
	for _, s := range sigs {
		m := s.re.FindStringSubmatch(content)
		if m == nil {
			continue
		}
		r := Result{Kind: s.kind, Message: s.message(m)}
		if s.fix != nil {
			r.Fix = s.fix(m)
		}
		return r, true
	}
	return Result{}, false
}
