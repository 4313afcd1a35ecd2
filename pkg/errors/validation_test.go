package errors

import (
	"strings"
	"testing"
)

func TestValidatePackageName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid simple", "serde", false},
		{"valid with hyphen", "serde-json", false},
		{"valid with underscore", "proc_macro2x", false},
		{"valid with digits", "base64", false},
		{"empty", "", true},
		{"leading digit", "2fast", true},
		{"path traversal", "../etc/passwd", true},
		{"double slash", "a//b", true},
		{"backslash", "a\\b", true},
		{"null byte", "a\x00b", true},
		{"control character", "a\x01b", true},
		{"too long", strings.Repeat("a", 65), true},
		{"spaces", "my package", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePackageName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePackageName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if err != nil && !Is(err, ErrCodeInvalidPackage) {
				t.Errorf("error code = %v, want %v", GetCode(err), ErrCodeInvalidPackage)
			}
		})
	}
}

func TestValidateSpec(t *testing.T) {
	tests := []struct {
		spec        string
		wantName    string
		wantVersion string
		wantErr     bool
	}{
		{"serde@1.0.193", "serde", "1.0.193", false},
		{"serde", "serde", "", false},
		{"rand@0.8", "rand", "0.8", false},
		{"@1.0.0", "", "", true},
		{"bad name@1.0.0", "", "", true},
		{"serde@1.0/evil", "", "", true},
	}

	for _, tt := range tests {
		name, version, err := ValidateSpec(tt.spec)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateSpec(%q) error = %v, wantErr %v", tt.spec, err, tt.wantErr)
			continue
		}
		if name != tt.wantName || version != tt.wantVersion {
			t.Errorf("ValidateSpec(%q) = (%q, %q), want (%q, %q)",
				tt.spec, name, version, tt.wantName, tt.wantVersion)
		}
	}
}

func TestValidateURL(t *testing.T) {
	tests := []struct {
		url     string
		wantErr bool
	}{
		{"https://crates.io/api/v1", false},
		{"http://localhost:8080", false},
		{"", true},
		{"ftp://example.com", true},
		{"file:///etc/passwd", true},
		{"crates.io", true},
	}

	for _, tt := range tests {
		err := ValidateURL(tt.url)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateURL(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
		}
	}
}

func TestErrorCodesAreUnique(t *testing.T) {
	codes := []Code{
		ErrCodeConfig,
		ErrCodeConfigCycle,
		ErrCodeStoreUnreachable,
		ErrCodeInvalidInput,
		ErrCodeInvalidPackage,
		ErrCodeNotFound,
		ErrCodeNoSatisfyingVersion,
		ErrCodeResolution,
		ErrCodeFetch,
		ErrCodeNetwork,
		ErrCodeArchiveCorrupt,
		ErrCodePathTraversal,
		ErrCodeSizeLimit,
		ErrCodeParse,
		ErrCodeUnsupportedIR,
		ErrCodeIngestion,
		ErrCodeInternal,
	}

	seen := make(map[Code]bool)
	for _, c := range codes {
		if seen[c] {
			t.Errorf("duplicate error code: %s", c)
		}
		seen[c] = true
	}
}
