package ir

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/cratemap/cratemap/pkg/errors"
)

const sampleText = `cmir 1
module serde/ser

# serialization entry points
define _ZN5serde3ser9to_string17h1111111111111111E exported {
  call _ZN5serde3ser8to_value17h2222222222222222E
  invoke _ZN4core3fmt5write17h3333333333333333E
  call.indirect
}

define _ZN5serde3ser8to_value17h2222222222222222E {
}
`

func sampleModule() *Module {
	return &Module{
		Path: "serde/ser",
		Functions: []Function{
			{
				Linkage:  "_ZN5serde3ser9to_string17h1111111111111111E",
				Exported: true,
				Calls: []CallSite{
					{Kind: KindCall, Target: "_ZN5serde3ser8to_value17h2222222222222222E"},
					{Kind: KindInvoke, Target: "_ZN4core3fmt5write17h3333333333333333E"},
					{Kind: KindIndirect},
				},
			},
			{Linkage: "_ZN5serde3ser8to_value17h2222222222222222E"},
		},
	}
}

func TestParse_Text(t *testing.T) {
	m, err := Parse([]byte(sampleText))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if !reflect.DeepEqual(m, sampleModule()) {
		t.Errorf("Parse() = %+v, want %+v", m, sampleModule())
	}
}

func TestParse_TextErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		code  errors.Code
	}{
		{"empty", "", errors.ErrCodeParse},
		{"missing header", "module foo\n", errors.ErrCodeParse},
		{"future version", "cmir 2\n", errors.ErrCodeUnsupportedIR},
		{"garbage version", "cmir next\n", errors.ErrCodeParse},
		{"unterminated define", "cmir 1\ndefine _ZN1aE {\n", errors.ErrCodeParse},
		{"nested define", "cmir 1\ndefine _ZN1aE {\ndefine _ZN1bE {\n", errors.ErrCodeParse},
		{"call outside define", "cmir 1\ncall _ZN1aE\n", errors.ErrCodeParse},
		{"unmatched brace", "cmir 1\n}\n", errors.ErrCodeParse},
		{"unknown attribute", "cmir 1\ndefine _ZN1aE inline {\n}\n", errors.ErrCodeParse},
		{"unknown directive", "cmir 1\njump _ZN1aE\n", errors.ErrCodeParse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := Parse([]byte(tt.input))
			if err == nil {
				t.Fatal("Parse() succeeded, want error")
			}
			if m != nil {
				t.Error("Parse() returned partial module on error")
			}
			if !errors.Is(err, tt.code) {
				t.Errorf("error code = %v, want %v", errors.GetCode(err), tt.code)
			}
		})
	}
}

func TestParse_BinaryRoundTrip(t *testing.T) {
	want := sampleModule()
	data, err := EncodeBinary(want)
	if err != nil {
		t.Fatalf("EncodeBinary() error: %v", err)
	}

	got, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Parse(EncodeBinary()) = %+v, want %+v", got, want)
	}
}

func TestParse_BinaryErrors(t *testing.T) {
	valid, err := EncodeBinary(sampleModule())
	if err != nil {
		t.Fatalf("EncodeBinary() error: %v", err)
	}

	tests := []struct {
		name string
		data []byte
		code errors.Code
	}{
		{"truncated header", []byte("CMBC"), errors.ErrCodeParse},
		{"truncated body", valid[:len(valid)/2], errors.ErrCodeParse},
		{"trailing bytes", append(append([]byte{}, valid...), 0xff), errors.ErrCodeParse},
		{"future version", []byte{'C', 'M', 'B', 'C', 0x00, 0x09}, errors.ErrCodeUnsupportedIR},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := Parse(tt.data)
			if err == nil {
				t.Fatal("Parse() succeeded, want error")
			}
			if m != nil {
				t.Error("Parse() returned partial module on error")
			}
			if !errors.Is(err, tt.code) {
				t.Errorf("error code = %v, want %v", errors.GetCode(err), tt.code)
			}
		})
	}
}

func TestParse_BinaryForgedCounts(t *testing.T) {
	// Header + module path + an absurd function count, then nothing.
	data := []byte{'C', 'M', 'B', 'C', 0x00, 0x01, 0x00, 0x01, 'm', 0xff, 0xff, 0xff, 0xff}
	if _, err := Parse(data); !errors.Is(err, errors.ErrCodeParse) {
		t.Errorf("forged count: error = %v, want PARSE_ERROR", err)
	}
}

func TestEncodeBinary_OversizeString(t *testing.T) {
	long := strings.Repeat("x", 1<<16) // one byte past the u16 prefix

	tests := []struct {
		name string
		mod  *Module
	}{
		{"module path", &Module{Path: long}},
		{"linkage", &Module{Path: "m", Functions: []Function{{Linkage: long}}}},
		{"call target", &Module{Path: "m", Functions: []Function{{
			Linkage: "_ZN1aE",
			Calls:   []CallSite{{Kind: KindCall, Target: long}},
		}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := EncodeBinary(tt.mod); !errors.Is(err, errors.ErrCodeParse) {
				t.Errorf("error = %v, want PARSE_ERROR", err)
			}
		})
	}

	// Exactly at the limit still round-trips.
	limit := &Module{Path: strings.Repeat("x", 1<<16-1)}
	data, err := EncodeBinary(limit)
	if err != nil {
		t.Fatalf("EncodeBinary() error at the length limit: %v", err)
	}
	if got, err := Parse(data); err != nil || got.Path != limit.Path {
		t.Errorf("round trip at the length limit failed: %v", err)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mod.cmir")
	if err := os.WriteFile(path, []byte(sampleText), 0o644); err != nil {
		t.Fatal(err)
	}

	m, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if m.Path != "serde/ser" {
		t.Errorf("module path = %q, want %q", m.Path, "serde/ser")
	}

	if _, err := Load(filepath.Join(dir, "missing.cmir")); !errors.Is(err, errors.ErrCodeParse) {
		t.Errorf("missing file: error = %v, want PARSE_ERROR", err)
	}
}

func TestDiscover(t *testing.T) {
	dir := t.TempDir()
	files := []string{
		"a.cmir",
		"nested/deep/b.cmbc",
		"ignore.txt",
		"nested/c.CMIR", // extension matching is case-insensitive
	}
	for _, f := range files {
		path := filepath.Join(dir, f)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	got, err := Discover(dir)
	if err != nil {
		t.Fatalf("Discover() error: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Discover() found %d artifacts, want 3: %v", len(got), got)
	}
	for _, p := range got {
		if filepath.Base(p) == "ignore.txt" {
			t.Errorf("Discover() picked up non-artifact %s", p)
		}
	}
}
