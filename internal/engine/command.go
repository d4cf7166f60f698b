package engine

import (
	"fmt"
	"strings"

	"cloudrun-ide/internal/language"
)

// Sentinel lines emitted by the install-then-run script. They are the only
// signal the drain loop has that the install phase ended, so they must be
// standalone lines.
const (
	sentinelRunning       = "▶▶▶ RUNNING CODE ▶▶▶"
	sentinelInstallFailed = "❌ INSTALL FAILED — check package name and try again"
)

const stdinRedirect = " < /workspace/input.txt"

// composeCommand renders the container argv for the no-install path. When
// stdin is supplied the command is wrapped in a shell so the input file can
// be redirected. ubuntu runs the code itself and is never wrapped, so its
// stdin is not redirected from input.txt.
func composeCommand(spec language.Spec, mainFile, classname, code string, hasStdin bool) []string {
	cmd := spec.Command(mainFile, classname, code)
	if hasStdin && spec.Tag != language.Ubuntu {
		cmd = []string{"sh", "-c", shellJoin(cmd) + stdinRedirect}
	}
	return cmd
}

// composeInstallCommand builds the install-then-run shell script. The
// install phase runs with combined output; on failure the failure sentinel
// is printed and the script exits with the install status, skipping the run
// phase entirely. On success the running sentinel is printed and the
// program replaces the shell.
func composeInstallCommand(spec language.Spec, mainFile, classname, code string, packages []string, hasStdin bool) ([]string, error) {
	manager, ok := spec.DefaultInstallManager()
	if !ok {
		return nil, fmt.Errorf("language %s does not support package install", spec.Tag)
	}
	installCmd, _ := spec.InstallCommand(manager, strings.Join(packages, " "))

	runCmd := shellJoin(spec.Command(mainFile, classname, code))
	if hasStdin {
		runCmd += stdinRedirect
	}

	script := strings.Join([]string{
		installCmd + " 2>&1",
		"rc=$?",
		"if [ $rc -ne 0 ]; then",
		fmt.Sprintf("  echo '%s'", sentinelInstallFailed),
		"  exit $rc",
		"fi",
		fmt.Sprintf("echo '%s'", sentinelRunning),
		"exec " + runCmd,
	}, "\n")

	return []string{"sh", "-c", script}, nil
}

// shellJoin renders an argv as a shell command line, quoting arguments that
// need it.
func shellJoin(argv []string) string {
	parts := make([]string, 0, len(argv))
	for _, a := range argv {
		parts = append(parts, shellQuote(a))
	}
	return strings.Join(parts, " ")
}

func shellQuote(s string) string {
	if s != "" && !strings.ContainsAny(s, " \t\n\"'`$&|;<>()*?[]\\#~") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
