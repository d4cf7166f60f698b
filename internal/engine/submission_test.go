package engine

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"cloudrun-ide/internal/language"
)

func newTestEngine(driver ContainerDriver) *Engine {
	return New(language.NewRegistry(), driver, Config{})
}

func TestValidate(t *testing.T) {
	e := newTestEngine(nil)

	tests := []struct {
		name    string
		sub     Submission
		wantErr string
	}{
		{
			name: "valid python",
			sub:  Submission{Language: language.Python, Code: "print(1)"},
		},
		{
			name:    "empty code",
			sub:     Submission{Language: language.Python, Code: ""},
			wantErr: "empty",
		},
		{
			name:    "whitespace only code",
			sub:     Submission{Language: language.Python, Code: "   "},
			wantErr: "empty",
		},
		{
			name: "code at exactly 1MB passes",
			sub:  Submission{Language: language.Python, Code: "#" + strings.Repeat("a", 999_999)},
		},
		{
			name:    "code over 1MB fails",
			sub:     Submission{Language: language.Python, Code: "#" + strings.Repeat("a", 1_000_000)},
			wantErr: "too large",
		},
		{
			name:    "unknown language",
			sub:     Submission{Language: "cobol", Code: "x"},
			wantErr: "unsupported language",
		},
		{
			name:    "java without class",
			sub:     Submission{Language: language.Java, Code: "System.out.println(1);"},
			wantErr: "must contain a class",
		},
		{
			name: "java with class",
			sub:  Submission{Language: language.Java, Code: "public class Main {}"},
		},
		{
			name: "valid install packages",
			sub: Submission{
				Language:        language.Python,
				Code:            "import numpy",
				InstallPackages: []string{"numpy", "scikit-learn", "@babel/core"},
			},
		},
		{
			name: "package name with shell metacharacters",
			sub: Submission{
				Language:        language.Python,
				Code:            "x",
				InstallPackages: []string{"numpy; rm -rf /"},
			},
			wantErr: "invalid package name",
		},
		{
			name: "empty package name",
			sub: Submission{
				Language:        language.Python,
				Code:            "x",
				InstallPackages: []string{""},
			},
			wantErr: "invalid package name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := e.validate(tt.sub)
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.ErrorContains(t, err, tt.wantErr)
			}
		})
	}
}

func TestSanitizeFileName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"data.txt", "data.txt"},
		{"../../etc/passwd", "passwd"},
		{"dir/sub/file.py", "file.py"},
		{`C:\windows\evil.js`, "evil.js"},
		{"spaces and$chars!.txt", "spaces_and_chars_.txt"},
		{"safe-name_1.2.md", "safe-name_1.2.md"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, sanitizeFileName(tt.in), "input %q", tt.in)
	}
}
