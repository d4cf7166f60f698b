package engine

import (
	"fmt"
	"regexp"
	"strings"

	"cloudrun-ide/internal/language"
)

const maxCodeBytes = 1_000_000

// FileAttachment is an auxiliary source file supplied with a submission.
type FileAttachment struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// Submission is one execution request.
type Submission struct {
	Language        language.Tag     `json:"language"`
	Code            string           `json:"code"`
	Stdin           string           `json:"stdin"`
	Files           []FileAttachment `json:"files"`
	InstallPackages []string         `json:"install_packages"`
}

var (
	packageNameRe = regexp.MustCompile(`^[A-Za-z0-9._\-@/]+$`)
	unsafeFileRe  = regexp.MustCompile(`[^A-Za-z0-9._\-]`)
)

// validate applies the request rules. The returned message is user-facing.
func (e *Engine) validate(sub Submission) error {
	if strings.TrimSpace(sub.Code) == "" {
		return fmt.Errorf("Code cannot be empty")
	}
	if len(sub.Code) > maxCodeBytes {
		return fmt.Errorf("Code is too large (max 1MB)")
	}
	if !e.registry.Known(sub.Language) {
		return fmt.Errorf("unsupported language: %s", sub.Language)
	}
	if sub.Language == language.Java && !strings.Contains(sub.Code, "class") {
		return fmt.Errorf("Java code must contain a class")
	}
	for _, pkg := range sub.InstallPackages {
		if !packageNameRe.MatchString(pkg) {
			return fmt.Errorf("invalid package name: %s", pkg)
		}
	}
	return nil
}

// sanitizeFileName strips path components and replaces anything outside
// [A-Za-z0-9._-] with underscores.
func sanitizeFileName(name string) string {
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	return unsafeFileRe.ReplaceAllString(name, "_")
}
