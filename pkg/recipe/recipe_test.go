package recipe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Azure/testbed-copilot/pkg/descriptor"
)

func newConfig() *Config {
	return &Config{
		Repo:           "octo/widgets",
		Version:        "1.0.0",
		PackageManager: descriptor.NPM,
		Install:        []string{"npm install"},
		TestCmd:        "npm test",
		DockerSpecs:    map[string]string{SpecNodeVersion: "20", SpecVariant: "js_2"},
		AptPkgs:        []string{"python3"},
		EnvVars:        map[string]string{},
	}
}

func TestAddAptPackageIsIdempotent(t *testing.T) {
	for _, pkg := range []string{"chromium", "python3", "xvfb"} {
		once := newConfig()
		once.Apply(FixDirective{Kind: AddAptPackage, Field: FieldAptPkgs, Value: pkg})

		twice := newConfig()
		twice.Apply(FixDirective{Kind: AddAptPackage, Field: FieldAptPkgs, Value: pkg})
		changed := twice.Apply(FixDirective{Kind: AddAptPackage, Field: FieldAptPkgs, Value: pkg})

		assert.False(t, changed, pkg)
		assert.Equal(t, once.AptPkgs, twice.AptPkgs, pkg)
	}
}

func TestRemoveAbsentAptPackageIsNoop(t *testing.T) {
	c := newConfig()
	before := c.Clone()
	assert.False(t, c.Apply(FixDirective{Kind: RemoveAptPackage, Field: FieldAptPkgs, Value: "libfoo-dev"}))
	assert.Equal(t, before, c)

	assert.True(t, c.Apply(FixDirective{Kind: RemoveAptPackage, Field: FieldAptPkgs, Value: "python3"}))
	assert.Empty(t, c.AptPkgs)
}

func TestChangeVersionKeepsOtherSpecs(t *testing.T) {
	c := newConfig()
	assert.True(t, c.Apply(FixDirective{Kind: ChangeVersion, Field: FieldNodeVersion, Value: "18"}))
	assert.Equal(t, map[string]string{SpecNodeVersion: "18", SpecVariant: "js_2"}, c.DockerSpecs)
	assert.False(t, c.Apply(FixDirective{Kind: ChangeVersion, Field: FieldNodeVersion, Value: "18"}))
}

func TestAddCommand(t *testing.T) {
	c := newConfig()
	d := FixDirective{Kind: AddCommand, Field: FieldInstall, Value: "npm install left-pad"}
	assert.True(t, c.Apply(d))
	assert.False(t, c.Apply(d))
	assert.Equal(t, []string{"npm install", "npm install left-pad"}, c.Install)

	require.Nil(t, c.Build)
	assert.True(t, c.Apply(FixDirective{Kind: AddCommand, Field: FieldBuild, Value: "npm run build"}))
	assert.Equal(t, []string{"npm run build"}, c.Build)

	assert.False(t, c.Apply(FixDirective{Kind: AddCommand, Field: "elsewhere", Value: "x"}))
}

func TestModifyTestCmd(t *testing.T) {
	c := newConfig()
	assert.True(t, c.Apply(FixDirective{Kind: ModifyTestCmd, Field: FieldTestCmd, Value: "npm run test:unit"}))
	assert.Equal(t, "npm run test:unit", c.TestCmd)
}

func TestAddNpmFlag(t *testing.T) {
	c := newConfig()
	c.Install = []string{"npm install", "npm install left-pad", "node scripts/setup.js"}
	d := FixDirective{Kind: AddNpmFlag, Field: FieldInstall, Value: "--legacy-peer-deps"}

	assert.True(t, c.Apply(d))
	assert.False(t, c.Apply(d))
	assert.Equal(t, []string{
		"npm install --legacy-peer-deps",
		"npm install left-pad --legacy-peer-deps",
		"node scripts/setup.js",
	}, c.Install)
}

func TestAddNpmFlagUsesPackageManager(t *testing.T) {
	c := newConfig()
	c.PackageManager = descriptor.PNPM
	c.Install = []string{"pnpm install", "npm install -g pnpm"}
	c.Apply(FixDirective{Kind: AddNpmFlag, Field: FieldInstall, Value: "--no-frozen-lockfile"})
	assert.Equal(t, []string{"pnpm install --no-frozen-lockfile", "npm install -g pnpm"}, c.Install)
}

func TestUnhandledKindsAreNoops(t *testing.T) {
	for _, kind := range []FixKind{Retry, IncreaseTimeout, "rewrite_everything"} {
		c := newConfig()
		before := c.Clone()
		assert.False(t, c.Apply(FixDirective{Kind: kind, Field: FieldTimeout, Value: "600"}))
		assert.Equal(t, before, c, kind)
	}
}

func TestFixKindValid(t *testing.T) {
	for _, k := range FixKinds {
		assert.True(t, k.Valid(), k)
	}
	assert.False(t, FixKind("nope").Valid())
}

func TestCloneIsDeep(t *testing.T) {
	c := newConfig()
	cp := c.Clone()
	cp.Install[0] = "changed"
	cp.DockerSpecs[SpecNodeVersion] = "16"
	cp.AptPkgs[0] = "changed"
	assert.Equal(t, "npm install", c.Install[0])
	assert.Equal(t, "20", c.DockerSpecs[SpecNodeVersion])
	assert.Equal(t, "python3", c.AptPkgs[0])
	assert.Nil(t, cp.Build)
}

func TestConstantsEntryOmitsUnsetFields(t *testing.T) {
	c := newConfig()
	c.AptPkgs = nil
	data, err := c.MarshalEntryYAML()
	require.NoError(t, err)

	out := string(data)
	assert.Contains(t, out, "1.0.0:")
	assert.Contains(t, out, "test_cmd: npm test")
	assert.NotContains(t, out, "build")
	assert.NotContains(t, out, "apt-pkgs")
	assert.NotContains(t, out, "env_vars")
	assert.NotContains(t, out, "null")

	version, entry, err := UnmarshalEntryYAML(data)
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", version)
	assert.Equal(t, c.ConstantsEntry(), entry)
}

func TestUnmarshalEntryYAMLWantsOneVersion(t *testing.T) {
	tests := map[string]string{
		"two versions": "1.0.0:\n  install: [npm install]\n  test_cmd: npm test\n2.0.0:\n  install: [npm ci]\n  test_cmd: npm test\n",
		"empty":        "{}\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, _, err := UnmarshalEntryYAML([]byte(doc))
			assert.Error(t, err)
		})
	}
}
