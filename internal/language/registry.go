// Package language holds the static per-language execution tables: sandbox
// image, file extension, command template, starter template, dependency
// detection patterns, and install command templates.
package language

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Tag identifies a supported language.
type Tag string

const (
	Python Tag = "python"
	NodeJS Tag = "nodejs"
	Java   Tag = "java"
	CPP    Tag = "cpp"
	Ubuntu Tag = "ubuntu"
	HTML   Tag = "html"
)

// Spec is the immutable per-language configuration.
type Spec struct {
	Tag       Tag
	Image     string // empty for the HTML preview pseudo-language
	Extension string

	// CommandTemplate tokens may contain the placeholders {file},
	// {classname}, and {code}.
	CommandTemplate []string

	StarterTemplate string

	// DepPatterns maps a package manager to regexes whose first capture
	// group is the missing package name.
	DepPatterns map[string][]*regexp.Regexp

	// InstallTemplates maps a package manager to an install command with a
	// single {package} placeholder.
	InstallTemplates map[string]string

	// NetworkAllowed permits container networking even outside the
	// package-install path.
	NetworkAllowed bool

	// SupportsInstall marks languages honoring install_packages.
	SupportsInstall bool
}

// Registry resolves language tags to their specs.
type Registry struct {
	specs map[Tag]Spec
}

// NewRegistry builds the registry with the built-in language set.
func NewRegistry() *Registry {
	specs := map[Tag]Spec{
		Python: {
			Tag:             Python,
			Image:           "python:3.11-slim",
			Extension:       ".py",
			CommandTemplate: []string{"python", "-u", "{file}"},
			StarterTemplate: "# Python Code\nprint(\"Hello, World!\")\n",
			DepPatterns: map[string][]*regexp.Regexp{
				"pip": {
					regexp.MustCompile(`ModuleNotFoundError: No module named '(\w+)'`),
					regexp.MustCompile(`ImportError: No module named (\w+)`),
				},
			},
			InstallTemplates: map[string]string{
				"pip": "pip install --no-cache-dir {package}",
			},
			SupportsInstall: true,
		},
		NodeJS: {
			Tag:             NodeJS,
			Image:           "node:20-alpine",
			Extension:       ".js",
			CommandTemplate: []string{"node", "{file}"},
			StarterTemplate: "// Node.js Code\nconsole.log(\"Hello, World!\");\n",
			DepPatterns: map[string][]*regexp.Regexp{
				"npm": {
					regexp.MustCompile(`Cannot find module '([\w\-@/]+)'`),
					regexp.MustCompile(`Error \[ERR_MODULE_NOT_FOUND\].*'([\w\-@/]+)'`),
				},
			},
			InstallTemplates: map[string]string{
				"npm": "npm install {package}",
			},
			SupportsInstall: true,
		},
		Java: {
			Tag:             Java,
			Image:           "eclipse-temurin:21-jdk",
			Extension:       ".java",
			CommandTemplate: []string{"sh", "-c", "javac {file} && java {classname}"},
			StarterTemplate: "public class Main {\n    public static void main(String[] args) {\n        System.out.println(\"Hello, World!\");\n    }\n}\n",
		},
		CPP: {
			Tag:             CPP,
			Image:           "gcc:12",
			Extension:       ".cpp",
			CommandTemplate: []string{"sh", "-c", "g++ {file} -o /tmp/program && /tmp/program"},
			StarterTemplate: "#include <iostream>\nusing namespace std;\n\nint main() {\n    cout << \"Hello, World!\" << endl;\n    return 0;\n}\n",
		},
		Ubuntu: {
			Tag:             Ubuntu,
			Image:           "ubuntu:22.04",
			Extension:       ".sh",
			CommandTemplate: []string{"bash", "-c", "{code}"},
			StarterTemplate: "# Ubuntu Shell\necho \"Hello, World!\"\n",
			NetworkAllowed:  true,
		},
		HTML: {
			Tag:             HTML,
			Extension:       ".html",
			StarterTemplate: "<!DOCTYPE html>\n<html>\n<head>\n    <title>Page</title>\n</head>\n<body>\n    <h1>Hello, World!</h1>\n</body>\n</html>\n",
		},
	}

	return &Registry{specs: specs}
}

// Lookup returns the spec for a tag.
func (r *Registry) Lookup(tag Tag) (Spec, error) {
	spec, ok := r.specs[tag]
	if !ok {
		return Spec{}, fmt.Errorf("unsupported language: %s", tag)
	}
	return spec, nil
}

// Known reports whether a tag is registered.
func (r *Registry) Known(tag Tag) bool {
	_, ok := r.specs[tag]
	return ok
}

// Tags returns all registered tags in sorted order.
func (r *Registry) Tags() []Tag {
	tags := make([]Tag, 0, len(r.specs))
	for tag := range r.specs {
		tags = append(tags, tag)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i] < tags[j] })
	return tags
}

// Templates returns the starter templates keyed by tag.
func (r *Registry) Templates() map[Tag]string {
	out := make(map[Tag]string, len(r.specs))
	for tag, spec := range r.specs {
		out[tag] = spec.StarterTemplate
	}
	return out
}

var javaClassRe = regexp.MustCompile(`public\s+class\s+(\w+)`)

// ExtractJavaClassName returns the first public class identifier in code,
// defaulting to "Main". The source file must be named <classname>.java.
func ExtractJavaClassName(code string) string {
	if m := javaClassRe.FindStringSubmatch(code); len(m) > 1 {
		return m[1]
	}
	return "Main"
}

// Command renders the spec's command template. Each placeholder is
// substituted exactly once per token: {file} becomes /workspace/<filename>,
// {classname} the Java class, and {code} the raw source (ubuntu only, where
// the code is the program itself and travels as a single argv element).
func (s Spec) Command(filename, classname, code string) []string {
	cmd := make([]string, 0, len(s.CommandTemplate))
	for _, part := range s.CommandTemplate {
		part = strings.Replace(part, "{file}", "/workspace/"+filename, 1)
		part = strings.Replace(part, "{classname}", classname, 1)
		part = strings.Replace(part, "{code}", code, 1)
		cmd = append(cmd, part)
	}
	return cmd
}

// InstallCommand renders the install template for a package manager. The
// {package} placeholder accepts a space-joined list.
func (s Spec) InstallCommand(manager, packages string) (string, bool) {
	tmpl, ok := s.InstallTemplates[manager]
	if !ok {
		return "", false
	}
	return strings.ReplaceAll(tmpl, "{package}", packages), true
}

// DefaultInstallManager returns the spec's package manager, if any.
func (s Spec) DefaultInstallManager() (string, bool) {
	for manager := range s.InstallTemplates {
		return manager, true
	}
	return "", false
}
