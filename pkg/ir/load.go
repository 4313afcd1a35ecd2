package ir

import (
	"bytes"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cratemap/cratemap/pkg/errors"
)

// binaryMagic opens every binary-encoded artifact.
var binaryMagic = []byte("CMBC")

// Load reads and parses the IR artifact at path. The encoding is chosen by
// content, not extension: artifacts are untrusted inputs and a mislabeled
// file must still parse or fail cleanly.
func Load(path string) (*Module, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeParse, err, "read artifact %s", filepath.Base(path))
	}
	return Parse(data)
}

// Parse decodes an IR artifact from memory, dispatching on the binary
// magic. On any failure the returned module is nil: later stages never see
// a partially parsed artifact.
func Parse(data []byte) (*Module, error) {
	if bytes.HasPrefix(data, binaryMagic) {
		return parseBinary(data)
	}
	return parseText(data)
}

// parseText decodes the line-oriented textual form:
//
//	cmir 1
//	module <path>
//	define <linkage> [exported] [generic] {
//	  call <linkage>
//	  invoke <linkage>
//	  call.indirect
//	}
//
// Blank lines and lines starting with '#' are ignored.
func parseText(data []byte) (*Module, error) {
	lines := strings.Split(string(data), "\n")

	m := &Module{}
	var fn *Function
	sawHeader := false

	for n, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)

		if !sawHeader {
			if len(fields) != 2 || fields[0] != "cmir" {
				return nil, errors.New(errors.ErrCodeParse, "line %d: missing cmir header", n+1)
			}
			v, err := strconv.Atoi(fields[1])
			if err != nil {
				return nil, errors.New(errors.ErrCodeParse, "line %d: bad version %q", n+1, fields[1])
			}
			if v != FormatVersion {
				return nil, errors.New(errors.ErrCodeUnsupportedIR, "cmir version %d (supported: %d)", v, FormatVersion)
			}
			sawHeader = true
			continue
		}

		switch fields[0] {
		case "module":
			if len(fields) != 2 {
				return nil, errors.New(errors.ErrCodeParse, "line %d: malformed module directive", n+1)
			}
			m.Path = fields[1]

		case "define":
			if fn != nil {
				return nil, errors.New(errors.ErrCodeParse, "line %d: nested define", n+1)
			}
			if len(fields) < 3 || fields[len(fields)-1] != "{" {
				return nil, errors.New(errors.ErrCodeParse, "line %d: malformed define", n+1)
			}
			fn = &Function{Linkage: fields[1]}
			for _, attr := range fields[2 : len(fields)-1] {
				switch attr {
				case "exported":
					fn.Exported = true
				case "generic":
					fn.Generic = true
				default:
					return nil, errors.New(errors.ErrCodeParse, "line %d: unknown attribute %q", n+1, attr)
				}
			}

		case "call", "invoke":
			if fn == nil {
				return nil, errors.New(errors.ErrCodeParse, "line %d: %s outside define", n+1, fields[0])
			}
			if len(fields) != 2 {
				return nil, errors.New(errors.ErrCodeParse, "line %d: malformed %s", n+1, fields[0])
			}
			kind := KindCall
			if fields[0] == "invoke" {
				kind = KindInvoke
			}
			fn.Calls = append(fn.Calls, CallSite{Kind: kind, Target: fields[1]})

		case "call.indirect":
			if fn == nil {
				return nil, errors.New(errors.ErrCodeParse, "line %d: call.indirect outside define", n+1)
			}
			fn.Calls = append(fn.Calls, CallSite{Kind: KindIndirect})

		case "}":
			if fn == nil {
				return nil, errors.New(errors.ErrCodeParse, "line %d: unmatched closing brace", n+1)
			}
			m.Functions = append(m.Functions, *fn)
			fn = nil

		default:
			return nil, errors.New(errors.ErrCodeParse, "line %d: unknown directive %q", n+1, fields[0])
		}
	}

	if !sawHeader {
		return nil, errors.New(errors.ErrCodeParse, "empty artifact")
	}
	if fn != nil {
		return nil, errors.New(errors.ErrCodeParse, "unterminated define %s", fn.Linkage)
	}
	return m, nil
}
