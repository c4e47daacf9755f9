package harness

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"text/template"

	"github.com/Azure/testbed-copilot/pkg/harness/templates"
)

const (
	DefaultPlatform      = "linux/x86_64"
	DefaultUbuntuVersion = "22.04"
)

// BaseImage configures the OS layer: system packages and the Node runtime.
type BaseImage struct {
	Platform      string
	UbuntuVersion string
	NodeVersion   string
	PnpmVersion   string
	Yarn          bool
	AptPkgs       []string
}

type EnvVar struct {
	Name  string
	Value string
}

// EnvImage layers environment variables on a base image.
type EnvImage struct {
	Platform  string
	BaseImage string
	Env       []EnvVar
}

// InstanceImage checks the repository out at its base commit.
type InstanceImage struct {
	Platform   string
	EnvImage   string
	RepoURL    string
	BaseCommit string
}

// EvalScript runs install, build and test inside the instance container.
type EvalScript struct {
	Install []string
	Build   []string
	TestCmd string
}

var funcs = template.FuncMap{
	"shquote": shellQuote,
}

var tmpl = template.Must(template.New("").Funcs(funcs).ParseFS(templates.Templates, "*.tmpl"))

func RenderBase(b BaseImage) (string, error) {
	if b.NodeVersion == "" {
		return "", fmt.Errorf("base image: node version is required")
	}
	b.Platform = NormalizePlatform(b.Platform)
	if b.UbuntuVersion == "" {
		b.UbuntuVersion = DefaultUbuntuVersion
	}
	return render("base.Dockerfile.tmpl", b)
}

func RenderEnv(e EnvImage) (string, error) {
	if e.BaseImage == "" {
		return "", fmt.Errorf("env image: base image is required")
	}
	e.Platform = NormalizePlatform(e.Platform)
	return render("env.Dockerfile.tmpl", e)
}

func RenderInstance(i InstanceImage) (string, error) {
	if i.EnvImage == "" || i.RepoURL == "" || i.BaseCommit == "" {
		return "", fmt.Errorf("instance image: env image, repo url and base commit are required")
	}
	i.Platform = NormalizePlatform(i.Platform)
	return render("instance.Dockerfile.tmpl", i)
}

func RenderEval(e EvalScript) (string, error) {
	if e.TestCmd == "" {
		return "", fmt.Errorf("eval script: test command is required")
	}
	return render("eval.sh.tmpl", e)
}

func render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("rendering %s: %w", name, err)
	}
	return buf.String(), nil
}

// NormalizePlatform maps architecture aliases to docker platform strings.
func NormalizePlatform(p string) string {
	switch strings.ToLower(strings.TrimSpace(p)) {
	case "", "x86_64", "amd64", "linux/amd64", "linux/x86_64":
		return DefaultPlatform
	case "arm64", "aarch64", "linux/arm64", "linux/arm64/v8":
		return "linux/arm64/v8"
	}
	return p
}

// SortedEnv turns a map into a stable list.
func SortedEnv(vars map[string]string) []EnvVar {
	out := make([]EnvVar, 0, len(vars))
	for k, v := range vars {
		out = append(out, EnvVar{Name: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
