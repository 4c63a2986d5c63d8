package sqlguard

import (
	"strings"
)

type tokenKind int

const (
	tokWord      tokenKind = iota // unquoted identifier or keyword
	tokIdent                      // "quoted identifier" (text holds the unquoted name)
	tokString                     // any string literal, including dollar-quoted bodies
	tokNumber                     // numeric literal
	tokParam                      // $1 style positional parameter
	tokSemicolon                  // ;
	tokSymbol                     // any other punctuation / operator character
)

type token struct {
	kind tokenKind
	text string
	pos  int // byte offset of the token start
	end  int // byte offset just past the token
}

// lex splits a PostgreSQL statement into tokens. Comments and whitespace are
// dropped. Literal and comment bodies never yield word tokens, so keywords
// inside them cannot trigger a rule.
func lex(s string) ([]token, error) {
	var toks []token
	i := 0
	n := len(s)

	for i < n {
		c := s[i]
		switch {
		case isSpace(c):
			i++

		case c == '-' && i+1 < n && s[i+1] == '-':
			for i < n && s[i] != '\n' {
				i++
			}

		case c == '/' && i+1 < n && s[i+1] == '*':
			end, err := skipBlockComment(s, i)
			if err != nil {
				return nil, err
			}
			i = end

		case c == '\'':
			end, err := scanQuoted(s, i, '\'', false)
			if err != nil {
				return nil, err
			}
			toks = append(toks, token{kind: tokString, text: s[i:end], pos: i, end: end})
			i = end

		case c == '"':
			end, err := scanQuoted(s, i, '"', false)
			if err != nil {
				return nil, err
			}
			name := strings.ReplaceAll(s[i+1:end-1], `""`, `"`)
			toks = append(toks, token{kind: tokIdent, text: name, pos: i, end: end})
			i = end

		case c == '$':
			tok, end, err := scanDollar(s, i)
			if err != nil {
				return nil, err
			}
			toks = append(toks, tok)
			i = end

		case isIdentStart(c):
			start := i
			for i < n && isIdentPart(s[i]) {
				i++
			}
			word := s[start:i]
			// U&"..." and U&'...' spell names with \XXXX escapes, which would
			// hide a function name from the function rule.
			if (word == "u" || word == "U") && i+1 < n && s[i] == '&' && (s[i+1] == '"' || s[i+1] == '\'') {
				return nil, &Violation{Reason: ErrUnicodeEscape, Keyword: "U&", Pos: start}
			}
			// E'...' escape strings honour backslash escapes.
			if (word == "e" || word == "E") && i < n && s[i] == '\'' {
				end, err := scanQuoted(s, i, '\'', true)
				if err != nil {
					return nil, err
				}
				toks = append(toks, token{kind: tokString, text: s[start:end], pos: start, end: end})
				i = end
				continue
			}
			// B'..', X'..', N'..' prefixes: the literal itself is lexed next round.
			toks = append(toks, token{kind: tokWord, text: word, pos: start, end: i})

		case isDigit(c) || (c == '.' && i+1 < n && isDigit(s[i+1])):
			start := i
			for i < n && (isDigit(s[i]) || s[i] == '.' || s[i] == '_' ||
				s[i] == 'e' || s[i] == 'E' ||
				((s[i] == '+' || s[i] == '-') && (s[i-1] == 'e' || s[i-1] == 'E'))) {
				i++
			}
			toks = append(toks, token{kind: tokNumber, text: s[start:i], pos: start, end: i})

		case c == ';':
			toks = append(toks, token{kind: tokSemicolon, text: ";", pos: i, end: i + 1})
			i++

		default:
			toks = append(toks, token{kind: tokSymbol, text: string(c), pos: i, end: i + 1})
			i++
		}
	}
	return toks, nil
}

// skipBlockComment returns the offset just past a (possibly nested) /* */ comment.
func skipBlockComment(s string, start int) (int, error) {
	depth := 0
	i := start
	for i < len(s) {
		switch {
		case s[i] == '/' && i+1 < len(s) && s[i+1] == '*':
			depth++
			i += 2
		case s[i] == '*' && i+1 < len(s) && s[i+1] == '/':
			depth--
			i += 2
			if depth == 0 {
				return i, nil
			}
		default:
			i++
		}
	}
	return 0, unterminated("block comment", start)
}

// scanQuoted returns the offset just past a quoted run starting at s[start]==q.
// A doubled quote is an escaped quote. With backslashes set, \x escapes the next byte.
func scanQuoted(s string, start int, q byte, backslashes bool) (int, error) {
	i := start + 1
	for i < len(s) {
		switch {
		case backslashes && s[i] == '\\':
			i += 2
		case s[i] == q:
			if i+1 < len(s) && s[i+1] == q {
				i += 2
				continue
			}
			return i + 1, nil
		default:
			i++
		}
	}
	what := "string literal"
	if q == '"' {
		what = "quoted identifier"
	}
	return 0, unterminated(what, start)
}

// scanDollar handles $1 parameters, $tag$...$tag$ bodies and stray dollars.
func scanDollar(s string, start int) (token, int, error) {
	n := len(s)
	i := start + 1

	if i < n && isDigit(s[i]) {
		for i < n && isDigit(s[i]) {
			i++
		}
		return token{kind: tokParam, text: s[start:i], pos: start, end: i}, i, nil
	}

	j := i
	if j < n && isIdentStart(s[j]) {
		for j < n && isIdentPart(s[j]) && s[j] != '$' {
			j++
		}
	}
	if j < n && s[j] == '$' {
		delim := s[start : j+1]
		body := j + 1
		k := strings.Index(s[body:], delim)
		if k < 0 {
			return token{}, 0, unterminated("dollar-quoted string", start)
		}
		end := body + k + len(delim)
		return token{kind: tokString, text: s[start:end], pos: start, end: end}, end, nil
	}

	return token{kind: tokSymbol, text: "$", pos: start, end: start + 1}, start + 1, nil
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == '\v'
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c >= 0x80
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || isDigit(c) || c == '$'
}
