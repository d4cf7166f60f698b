// Package deps detects missing packages from program output and suggests
// install commands. Detection is pure text matching over the patterns the
// language registry declares; no network, no state.
package deps

import (
	"cloudrun-ide/internal/language"
)

// Suggestion describes one missing dependency and how to install it.
type Suggestion struct {
	PackageManager string `json:"package_manager"`
	PackageName    string `json:"package_name"`
	InstallCommand string `json:"install_command"`
}

// Detect scans output for the first missing-dependency match in the spec's
// patterns and returns the package manager and package name.
func Detect(spec language.Spec, output string) (manager, pkg string, ok bool) {
	for mgr, patterns := range spec.DepPatterns {
		for _, re := range patterns {
			if m := re.FindStringSubmatch(output); len(m) > 1 {
				return mgr, m[1], true
			}
		}
	}
	return "", "", false
}

// DetectAll returns every distinct missing dependency found in output,
// preserving discovery order.
func DetectAll(spec language.Spec, output string) []Suggestion {
	var suggestions []Suggestion
	seen := make(map[string]struct{})

	for mgr, patterns := range spec.DepPatterns {
		for _, re := range patterns {
			for _, m := range re.FindAllStringSubmatch(output, -1) {
				if len(m) < 2 {
					continue
				}
				pkg := m[1]
				if _, dup := seen[pkg]; dup {
					continue
				}
				seen[pkg] = struct{}{}

				cmd, _ := spec.InstallCommand(mgr, pkg)
				suggestions = append(suggestions, Suggestion{
					PackageManager: mgr,
					PackageName:    pkg,
					InstallCommand: cmd,
				})
			}
		}
	}
	return suggestions
}
