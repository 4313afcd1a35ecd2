// Package demangle decodes compiler-mangled linkage names into structured
// identities.
//
// The ecosystem's compiler emits legacy-scheme symbols of the form
//
//	_ZN<len><segment><len><segment>...17h<16 hex digits>E
//
// where each segment is a length-prefixed path component with punctuation
// escaped ($LT$ for '<', $GT$ for '>', .. for '::', $uXX$ for arbitrary
// code points) and the final 17h... segment is a per-instantiation
// disambiguator hash.
//
// Demangling is a pure function: identical input always yields an identical
// identity across runs and processes. This is what makes the cross-package
// export index reproducible - identities are derived from symbol content,
// never from anything transient.
package demangle

import (
	"strconv"
	"strings"
)

// Identity is the decoded form of a mangled linkage name: the path to the
// function, its name, and any generic-instantiation parameters carried by
// the path segments.
type Identity struct {
	Segments []string // path segments up to the function, e.g. ["serde", "ser"]
	Name     string   // function name, the last path segment
	Generics []string // generic-instantiation parameters, in path order
	Hash     string   // per-instantiation disambiguator, without the 'h' prefix
}

// Key returns the canonical lookup key for this identity: the fully
// qualified path without the disambiguator hash. Two instantiations of the
// same generic function share a Key only if their parameters match, so the
// export index never conflates them.
func (id Identity) Key() string {
	var b strings.Builder
	for _, s := range id.Segments {
		b.WriteString(s)
		b.WriteString("::")
	}
	b.WriteString(id.Name)
	return b.String()
}

// Package returns the root path segment, which by the ecosystem's linkage
// convention is the defining package's name. Empty for bare names.
func (id Identity) Package() string {
	if len(id.Segments) == 0 {
		return ""
	}
	return id.Segments[0]
}

// IsGeneric reports whether the identity carries generic-instantiation
// parameters.
func (id Identity) IsGeneric() bool { return len(id.Generics) > 0 }

// Demangle decodes a mangled linkage name. The second return value reports
// whether the name was actually mangled: foreign and system symbols come
// through unmangled and are returned to the caller untouched, so a false
// here means "treat linkage as the identity" rather than an error.
func Demangle(linkage string) (Identity, bool) {
	s := linkage

	// Compilers append .llvm.<hash> style suffixes during ThinLTO; they are
	// not part of the symbol identity.
	if i := strings.Index(s, ".llvm."); i >= 0 {
		s = s[:i]
	}

	switch {
	case strings.HasPrefix(s, "__ZN"): // macOS flavor, extra underscore
		s = s[4:]
	case strings.HasPrefix(s, "_ZN"):
		s = s[3:]
	case strings.HasPrefix(s, "ZN"): // Windows flavor, no underscores
		s = s[2:]
	default:
		return Identity{}, false
	}

	raw, rest, ok := splitSegments(s)
	if !ok || len(raw) == 0 {
		return Identity{}, false
	}
	// Anything after the closing E that survived suffix trimming means the
	// symbol is not in the legacy scheme.
	if rest != "" {
		return Identity{}, false
	}

	var id Identity
	if h, ok := hashSegment(raw[len(raw)-1]); ok {
		id.Hash = h
		raw = raw[:len(raw)-1]
	}
	if len(raw) == 0 {
		return Identity{}, false
	}

	decoded := make([]string, len(raw))
	for i, seg := range raw {
		decoded[i] = unescape(seg)
		id.Generics = append(id.Generics, genericParams(decoded[i])...)
	}

	id.Name = decoded[len(decoded)-1]
	id.Segments = decoded[:len(decoded)-1]
	return id, true
}

// splitSegments consumes length-prefixed segments until the closing 'E'.
func splitSegments(s string) (segs []string, rest string, ok bool) {
	for {
		if s == "" {
			return nil, "", false
		}
		if s[0] == 'E' {
			return segs, s[1:], true
		}

		n := 0
		i := 0
		for i < len(s) && s[i] >= '0' && s[i] <= '9' {
			n = n*10 + int(s[i]-'0')
			// A length prefix can never exceed the remaining input. Checking
			// inside the loop also keeps the accumulator from overflowing on
			// absurdly long prefixes.
			if n > len(s) {
				return nil, "", false
			}
			i++
		}
		if i == 0 || n == 0 || i+n > len(s) {
			return nil, "", false
		}
		segs = append(segs, s[i:i+n])
		s = s[i+n:]
	}
}

// hashSegment recognizes the trailing disambiguator: 'h' followed by
// exactly sixteen lowercase hex digits.
func hashSegment(seg string) (string, bool) {
	if len(seg) != 17 || seg[0] != 'h' {
		return "", false
	}
	for _, c := range seg[1:] {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return "", false
		}
	}
	return seg[1:], true
}

// escapes maps the fixed $...$ sequences of the legacy scheme.
var escapes = map[string]string{
	"SP": "@",
	"BP": "*",
	"RF": "&",
	"LT": "<",
	"GT": ">",
	"LP": "(",
	"RP": ")",
	"C":  ",",
}

// unescape decodes the punctuation escapes within one path segment.
// Unknown $...$ sequences are left verbatim rather than dropped, so a
// malformed segment still demangles to something greppable.
func unescape(seg string) string {
	// Segments cannot begin with punctuation, so the mangler prefixes an
	// underscore; drop it before decoding.
	if strings.HasPrefix(seg, "_$") {
		seg = seg[1:]
	}

	var b strings.Builder
	for i := 0; i < len(seg); {
		switch {
		case seg[i] == '$':
			end := strings.IndexByte(seg[i+1:], '$')
			if end < 0 {
				b.WriteByte(seg[i])
				i++
				continue
			}
			code := seg[i+1 : i+1+end]
			if rep, ok := escapes[code]; ok {
				b.WriteString(rep)
			} else if strings.HasPrefix(code, "u") {
				if r, err := strconv.ParseUint(code[1:], 16, 32); err == nil {
					b.WriteRune(rune(r))
				} else {
					b.WriteString(seg[i : i+2+end])
				}
			} else {
				b.WriteString(seg[i : i+2+end])
			}
			i += 2 + end
		case strings.HasPrefix(seg[i:], ".."):
			b.WriteString("::")
			i += 2
		default:
			b.WriteByte(seg[i])
			i++
		}
	}
	return b.String()
}

// genericParams extracts the comma-separated parameters of the outermost
// <...> group in a decoded segment, if any.
func genericParams(seg string) []string {
	open := strings.IndexByte(seg, '<')
	end := strings.LastIndexByte(seg, '>')
	if open < 0 || end <= open {
		return nil
	}

	var params []string
	depth := 0
	start := open + 1
	for i := open + 1; i < end; i++ {
		switch seg[i] {
		case '<':
			depth++
		case '>':
			depth--
		case ',':
			if depth == 0 {
				params = append(params, strings.TrimSpace(seg[start:i]))
				start = i + 1
			}
		}
	}
	if p := strings.TrimSpace(seg[start:end]); p != "" {
		params = append(params, p)
	}
	return params
}
