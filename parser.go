package kapper

import (
	"fmt"
	"strconv"
	"strings"
)

// ParsedQuery is the result of translating a SQL template: the statement with
// positional placeholders and the parameter name behind every placeholder, in
// order. It is immutable and safe for concurrent use.
type ParsedQuery struct {
	sql     string
	params  []string
	counts  map[string]int
	uuidEnc UUIDEncoding
}

// tokenKind classifies a lexed piece of a SQL template.
type tokenKind uint8

const (
	tkText  tokenKind = iota // literal SQL, copied verbatim
	tkParam                  // :name placeholder
)

// token is a lexed piece of a SQL template. For tkParam, text holds the name
// without the leading colon and offset points at the colon.
type token struct {
	kind   tokenKind
	text   string
	offset int
}

// Translate converts a template containing :name parameters into SQL with the
// dialect's positional placeholders, using the default limits for d.
// Translating the same template twice yields equal results.
func Translate(d Dialect, template string) (*ParsedQuery, error) {
	return translate(d, template, defaultConfig(d))
}

// SQL returns the rewritten statement.
func (p *ParsedQuery) SQL() string {
	return p.sql
}

// Params returns the parameter names in placeholder order, one entry per
// occurrence.
func (p *ParsedQuery) Params() []string {
	out := make([]string, len(p.params))
	copy(out, p.params)
	return out
}

// Len returns the number of placeholders in the statement.
func (p *ParsedQuery) Len() int {
	return len(p.params)
}

// Count returns how many placeholders refer to name.
func (p *ParsedQuery) Count(name string) int {
	return p.counts[name]
}

// Names returns the distinct parameter names in order of first occurrence.
func (p *ParsedQuery) Names() []string {
	out := make([]string, 0, len(p.counts))
	seen := make(map[string]struct{}, len(p.counts))
	for _, n := range p.params {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

// translate consumes the scanner's tokens and renders the positional statement.
func translate(d Dialect, q string, config Config) (*ParsedQuery, error) {
	toks, err := scan(d, q, config.MaxNameLen)
	if err != nil {
		return nil, err
	}

	nparams := 0
	for _, t := range toks {
		if t.kind == tkParam {
			nparams++
		}
	}
	if config.MaxParams > 0 && nparams > config.MaxParams {
		return nil, fmt.Errorf("%w: requested=%d, limit=%d", ErrTooManyParams, nparams, config.MaxParams)
	}

	var buf strings.Builder
	// Small oversizing to reduce reallocations; some dialects emit longer tokens.
	extraPer := 1
	switch d {
	case Postgres, SQLServer, Oracle:
		extraPer = 4
	}
	buf.Grow(len(q) + nparams*extraPer)

	pq := &ParsedQuery{
		params:  make([]string, 0, nparams),
		counts:  make(map[string]int, nparams),
		uuidEnc: config.UUIDEncoding,
	}
	n := 0
	for _, t := range toks {
		if t.kind == tkText {
			buf.WriteString(t.text)
			continue
		}
		n++
		writePlaceholder(&buf, d, n)
		pq.params = append(pq.params, t.text)
		pq.counts[t.text]++
	}
	pq.sql = buf.String()
	return pq, nil
}

// scan lexes q into literal text and :name tokens. It walks the template with
// a small state machine so that quoted strings, quoted identifiers, comments
// and dollar-quoted bodies are never searched for placeholders.
func scan(dialect Dialect, q string, maxNameLen int) ([]token, error) {
	var toks []token
	var dqTag string // active dollar-quoted tag (Postgres-like)

	const (
		sText = iota
		sSQ   // '...'
		sDQ   // "..."
		sBT   // `...` (MySQL/SQLite/DuckDB)
		sBR   // [...] (SQL Server)
		sLC   // line comment: -- (and # on MySQL)
		sBC   // block comment /* ... */
		sDQD  // $tag$ ... $tag$ (dollar-quoted)
	)
	state := sText
	opened := 0 // offset where the current quoted/comment state began
	start := 0  // start of the pending text token

	// MySQL treats backslash as an escape inside string literals; elsewhere
	// only doubled quotes escape.
	backslash := dialect == MySQL

	flush := func(end int) {
		if end > start {
			toks = append(toks, token{kind: tkText, text: q[start:end], offset: start})
		}
	}

	for i := 0; i < len(q); {
		c := q[i]

		switch state {
		case sText:
			if c == '-' && i+1 < len(q) && q[i+1] == '-' {
				state, opened = sLC, i
				i += 2
				continue
			}
			if c == '#' && dialect == MySQL {
				state, opened = sLC, i
				i++
				continue
			}
			if c == '/' && i+1 < len(q) && q[i+1] == '*' {
				state, opened = sBC, i
				i += 2
				continue
			}
			if c == '\'' {
				state, opened = sSQ, i
				i++
				continue
			}
			if c == '"' {
				state, opened = sDQ, i
				i++
				continue
			}
			if c == '`' && (dialect == MySQL || dialect == SQLite || dialect == DuckDB) {
				state, opened = sBT, i
				i++
				continue
			}
			if c == '[' && dialect == SQLServer {
				state, opened = sBR, i
				i++
				continue
			}
			if c == '$' && (dialect == Postgres || dialect == DuckDB) {
				if tag, ok := readDollarTag(q[i:]); ok {
					state, opened = sDQD, i
					dqTag = tag
					i += len(tag)
					continue
				}
			}

			if c == ':' {
				// '::' is a cast, never a parameter.
				if i+1 < len(q) && q[i+1] == ':' {
					i += 2
					continue
				}
				if i+1 >= len(q) || !isAlphaUnderscore(q[i+1]) {
					return nil, &QuerySyntaxError{Offset: i, Reason: "expected parameter name after ':'"}
				}
				k := i + 2
				for k < len(q) && isAlphaNumUnderscore(q[k]) {
					k++
				}
				name := q[i+1 : k]
				if maxNameLen > 0 && len(name) > maxNameLen {
					return nil, &QuerySyntaxError{
						Offset: i,
						Reason: fmt.Sprintf("parameter name %q too long (%d > %d)", name, len(name), maxNameLen),
					}
				}
				flush(i)
				toks = append(toks, token{kind: tkParam, text: name, offset: i})
				i = k
				start = k
				continue
			}
			i++

		case sSQ, sDQ:
			quote := byte('\'')
			if state == sDQ {
				quote = '"'
			}
			if backslash && c == '\\' {
				i += 2
				continue
			}
			i++
			if c == quote {
				if i < len(q) && q[i] == quote {
					i++
				} else {
					state = sText
				}
			}

		case sBT:
			i++
			if c == '`' {
				if i < len(q) && q[i] == '`' {
					i++
				} else {
					state = sText
				}
			}

		case sBR:
			i++
			if c == ']' {
				if i < len(q) && q[i] == ']' {
					i++
				} else {
					state = sText
				}
			}

		case sLC:
			i++
			if c == '\n' || c == '\r' {
				state = sText
			}

		case sBC:
			i++
			if c == '*' && i < len(q) && q[i] == '/' {
				i++
				state = sText
			}

		case sDQD:
			p := strings.Index(q[i:], dqTag)
			if p < 0 {
				i = len(q)
			} else {
				i += p + len(dqTag)
				dqTag = ""
				state = sText
			}
		}
	}

	switch state {
	case sSQ:
		return nil, &QuerySyntaxError{Offset: opened, Reason: "unterminated single-quoted string"}
	case sDQ:
		return nil, &QuerySyntaxError{Offset: opened, Reason: "unterminated double-quoted identifier"}
	case sBT:
		return nil, &QuerySyntaxError{Offset: opened, Reason: "unterminated backtick-quoted identifier"}
	case sBR:
		return nil, &QuerySyntaxError{Offset: opened, Reason: "unterminated bracket-quoted identifier"}
	case sBC:
		return nil, &QuerySyntaxError{Offset: opened, Reason: "unterminated block comment"}
	case sDQD:
		return nil, &QuerySyntaxError{Offset: opened, Reason: "unterminated dollar-quoted string"}
	}

	flush(len(q))
	return toks, nil
}

// writePlaceholder emits a dialect-specific placeholder token for argument idx.
func writePlaceholder(b *strings.Builder, d Dialect, idx int) {
	var tmp [20]byte
	switch d {
	case Postgres:
		b.WriteByte('$')
		b.Write(strconv.AppendInt(tmp[:0], int64(idx), 10))
	case SQLServer:
		b.WriteString("@p")
		b.Write(strconv.AppendInt(tmp[:0], int64(idx), 10))
	case Oracle:
		b.WriteByte(':')
		b.Write(strconv.AppendInt(tmp[:0], int64(idx), 10))
	default: // MySQL, SQLite, DuckDB
		b.WriteByte('?')
	}
}

// isAlphaUnderscore reports whether b is [A-Za-z_] .
func isAlphaUnderscore(b byte) bool {
	return (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z') || b == '_'
}

// isAlphaNumUnderscore reports whether b is [A-Za-z0-9_] .
func isAlphaNumUnderscore(b byte) bool {
	return isAlphaUnderscore(b) || (b >= '0' && b <= '9')
}

// readDollarTag detects a dollar-quoted opening tag ("$tag$") at the start of s.
// It returns the full tag (e.g. "$tag$") and true if found.
func readDollarTag(s string) (string, bool) {
	if len(s) < 2 || s[0] != '$' {
		return "", false
	}
	j := 1
	for j < len(s) && isAlphaNumUnderscore(s[j]) {
		j++
	}
	if j < len(s) && s[j] == '$' {
		return s[:j+1], true
	}
	return "", false
}
