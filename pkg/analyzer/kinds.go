package analyzer

import "github.com/Azure/testbed-copilot/pkg/recipe"

// Phase tags which collaborator produced a log.
type Phase string

const (
	PhaseBuild Phase = "build"
	PhaseTest  Phase = "test"
)

// ErrorKind is the closed set of classifications. The zero value means no
// error was found.
type ErrorKind string

const (
	None ErrorKind = ""

	MissingPackage      ErrorKind = "missing_package"
	NodeNotFound        ErrorKind = "node_not_found"
	NpmNotFound         ErrorKind = "npm_not_found"
	PermissionDenied    ErrorKind = "permission_denied"
	NetworkTimeout      ErrorKind = "network_timeout"
	BuildFailureGeneric ErrorKind = "build_failure_generic"

	InstallFailure  ErrorKind = "install_failure"
	MissingModule   ErrorKind = "missing_module"
	VersionConflict ErrorKind = "version_conflict"
	MissingPython   ErrorKind = "missing_python"
	GypError        ErrorKind = "gyp_error"
	NpmError        ErrorKind = "npm_error"
	MissingBinary   ErrorKind = "missing_binary"

	Timeout            ErrorKind = "timeout"
	ChromiumMissing    ErrorKind = "chromium_missing"
	DisplayError       ErrorKind = "display_error"
	TestFailureGeneric ErrorKind = "test_failure_generic"

	Unknown      ErrorKind = "unknown"
	LogNotFound  ErrorKind = "log_not_found"
	LogReadError ErrorKind = "log_read_error"
)

// Result is one classification. A failed Result without Fix is terminal for
// the repair loop.
type Result struct {
	Kind    ErrorKind            `json:"error_kind,omitempty"`
	Message string               `json:"message,omitempty"`
	Fix     *recipe.FixDirective `json:"suggested_fix,omitempty"`
	Excerpt string               `json:"log_excerpt,omitempty"`
	Source  string               `json:"source,omitempty"`
}

func (r Result) OK() bool {
	return r.Kind == None
}

// Recoverable reports whether the failure carries a remedy.
func (r Result) Recoverable() bool {
	return !r.OK() && r.Fix != nil
}
