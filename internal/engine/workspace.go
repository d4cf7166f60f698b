package engine

import (
	"archive/tar"
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"cloudrun-ide/internal/language"
)

// materializeWorkspace writes the submission's files into dir and returns
// the main source filename. The main file is main<ext>, except Java where
// the compiler requires <classname>.java. Extra files are sanitized first;
// duplicates after sanitization overwrite silently. Stdin, when present, is
// written to input.txt next to the sources.
func materializeWorkspace(dir string, spec language.Spec, sub Submission, classname string) (string, error) {
	mainFile := "main" + spec.Extension
	if spec.Tag == language.Java {
		mainFile = classname + ".java"
	}

	if err := os.WriteFile(filepath.Join(dir, mainFile), []byte(sub.Code), 0o644); err != nil {
		return "", fmt.Errorf("write main file: %w", err)
	}

	for _, f := range sub.Files {
		name := sanitizeFileName(f.Name)
		if name == "" {
			continue
		}
		if err := os.WriteFile(filepath.Join(dir, name), []byte(f.Content), 0o644); err != nil {
			return "", fmt.Errorf("write file %s: %w", name, err)
		}
	}

	if sub.Stdin != "" {
		if err := os.WriteFile(filepath.Join(dir, "input.txt"), []byte(sub.Stdin), 0o644); err != nil {
			return "", fmt.Errorf("write stdin file: %w", err)
		}
	}

	return mainFile, nil
}

// tarWorkspace packs every regular file in dir into an in-memory tar
// archive suitable for upload to the container's /workspace.
func tarWorkspace(dir string) (*bytes.Buffer, error) {
	buf := &bytes.Buffer{}
	tw := tar.NewWriter(buf)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read workspace dir: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", entry.Name(), err)
		}
		hdr := &tar.Header{
			Name: entry.Name(),
			Mode: 0o644,
			Size: int64(len(data)),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return nil, err
		}
		if _, err := tw.Write(data); err != nil {
			return nil, err
		}
	}

	if err := tw.Close(); err != nil {
		return nil, err
	}
	return buf, nil
}
