package recipe

import "fmt"

// FixKind enumerates the mutations the repair loop knows how to apply.
type FixKind string

const (
	AddAptPackage    FixKind = "add_apt_package"
	RemoveAptPackage FixKind = "remove_apt_package"
	ChangeVersion    FixKind = "change_version"
	AddCommand       FixKind = "add_command"
	ModifyTestCmd    FixKind = "modify_test_cmd"
	AddNpmFlag       FixKind = "add_npm_flag"
	Retry            FixKind = "retry"
	IncreaseTimeout  FixKind = "increase_timeout"
)

// FixKinds lists every known kind in declaration order.
var FixKinds = []FixKind{
	AddAptPackage, RemoveAptPackage, ChangeVersion, AddCommand,
	ModifyTestCmd, AddNpmFlag, Retry, IncreaseTimeout,
}

func (k FixKind) Valid() bool {
	switch k {
	case AddAptPackage, RemoveAptPackage, ChangeVersion, AddCommand,
		ModifyTestCmd, AddNpmFlag, Retry, IncreaseTimeout:
		return true
	}
	return false
}

// Logical directive targets.
const (
	FieldAptPkgs     = "apt_pkgs"
	FieldInstall     = "install"
	FieldBuild       = "build"
	FieldTestCmd     = "test_cmd"
	FieldTimeout     = "timeout"
	FieldNodeVersion = SpecNodeVersion
	FieldPnpmVersion = SpecPnpmVersion
)

// FixDirective is a single machine-applied change to a Config. Reason is
// diagnostic text only.
type FixDirective struct {
	Kind   FixKind `json:"fix_kind" yaml:"fix_kind"`
	Field  string  `json:"field" yaml:"field"`
	Value  string  `json:"value" yaml:"value"`
	Reason string  `json:"reason,omitempty" yaml:"reason,omitempty"`
}

func (d FixDirective) String() string {
	return fmt.Sprintf("%s %s=%q", d.Kind, d.Field, d.Value)
}
