package config

import (
	"strings"
)

// stripJSONC removes // line comments, /* block comments */, and
// trailing commas before array/object close brackets from a permissive
// JSON5-ish document, leaving plain JSON that encoding/json can parse.
//
// This is hand-rolled rather than pulled from an external JSON5 library:
// see DESIGN.md for why — in short, the permissive grammar this format
// actually needs (comments + trailing commas, nothing else JSON5 adds
// like unquoted keys or single-quoted strings) is small enough that a
// single-pass lexer is both simpler and more auditable than a general
// JSON5 parser dependency.
func stripJSONC(src []byte) []byte {
	var out strings.Builder
	out.Grow(len(src))

	inString := false
	escaped := false

	for i := 0; i < len(src); i++ {
		c := src[i]

		if inString {
			out.WriteByte(c)
			if escaped {
				escaped = false
				continue
			}
			if c == '\\' {
				escaped = true
				continue
			}
			if c == '"' {
				inString = false
			}
			continue
		}

		switch {
		case c == '"':
			inString = true
			out.WriteByte(c)
		case c == '/' && i+1 < len(src) && src[i+1] == '/':
			for i < len(src) && src[i] != '\n' {
				i++
			}
			if i < len(src) {
				out.WriteByte('\n')
			}
		case c == '/' && i+1 < len(src) && src[i+1] == '*':
			i += 2
			for i+1 < len(src) && !(src[i] == '*' && src[i+1] == '/') {
				i++
			}
			i++ // land on the '/'
		default:
			out.WriteByte(c)
		}
	}

	return stripTrailingCommas(out.String())
}

// stripTrailingCommas removes a comma that appears (ignoring
// whitespace) immediately before a closing ']' or '}', which
// encoding/json otherwise rejects.
func stripTrailingCommas(s string) []byte {
	var out strings.Builder
	out.Grow(len(s))

	runes := []rune(s)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		if c == ',' {
			j := i + 1
			for j < len(runes) && isJSONWhitespace(runes[j]) {
				j++
			}
			if j < len(runes) && (runes[j] == ']' || runes[j] == '}') {
				continue
			}
		}
		out.WriteRune(c)
	}
	return []byte(out.String())
}

func isJSONWhitespace(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\r':
		return true
	}
	return false
}
