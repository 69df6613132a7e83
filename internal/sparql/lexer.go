package sparql

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIRI           // <http://...>
	tokPName         // prefix:local or prefix:
	tokBlank         // _:label
	tokVar           // ?x or $x
	tokString        // "..." with escapes resolved
	tokLangTag       // @en
	tokInteger
	tokDecimal
	tokDouble
	tokKeyword // bare word: SELECT, a, true, FILTER, function names
	tokPunct
)

func (k tokenKind) String() string {
	switch k {
	case tokEOF:
		return "end of query"
	case tokIRI:
		return "IRI"
	case tokPName:
		return "prefixed name"
	case tokBlank:
		return "blank node"
	case tokVar:
		return "variable"
	case tokString:
		return "string"
	case tokLangTag:
		return "language tag"
	case tokInteger, tokDecimal, tokDouble:
		return "number"
	case tokKeyword:
		return "keyword"
	default:
		return "punctuation"
	}
}

type token struct {
	kind tokenKind
	text string
	pos  int
}

func (t token) String() string {
	if t.kind == tokEOF {
		return "end of query"
	}
	return fmt.Sprintf("%q", t.text)
}

// SyntaxError reports a lexing or parsing failure with its byte offset.
type SyntaxError struct {
	Pos int
	Msg string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at offset %d: %s", e.Pos, e.Msg)
}

type lexer struct {
	src    string
	pos    int
	tokens []token
}

func tokenize(src string) ([]token, error) {
	lx := &lexer{src: src}
	for {
		tok, err := lx.next()
		if err != nil {
			return nil, err
		}
		lx.tokens = append(lx.tokens, tok)
		if tok.kind == tokEOF {
			return lx.tokens, nil
		}
	}
}

func (lx *lexer) errorf(pos int, format string, args ...any) error {
	return &SyntaxError{Pos: pos, Msg: fmt.Sprintf(format, args...)}
}

func (lx *lexer) peekRune(off int) rune {
	if lx.pos+off >= len(lx.src) {
		return 0
	}
	r, _ := utf8.DecodeRuneInString(lx.src[lx.pos+off:])
	return r
}

func (lx *lexer) skipSpaceAndComments() {
	for lx.pos < len(lx.src) {
		c := lx.src[lx.pos]
		switch {
		case c == '#':
			for lx.pos < len(lx.src) && lx.src[lx.pos] != '\n' {
				lx.pos++
			}
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			lx.pos++
		default:
			return
		}
	}
}

func (lx *lexer) next() (token, error) {
	lx.skipSpaceAndComments()
	start := lx.pos
	if lx.pos >= len(lx.src) {
		return token{kind: tokEOF, pos: start}, nil
	}

	c := lx.src[lx.pos]
	switch {
	case c == '<':
		if iri, ok := lx.scanIRIRef(); ok {
			return token{kind: tokIRI, text: iri, pos: start}, nil
		}
		return lx.punct(start)
	case c == '?' || c == '$':
		if isNameStart(lx.peekRune(1)) || isDigit(lx.peekRune(1)) {
			lx.pos++
			name := lx.scanName()
			return token{kind: tokVar, text: name, pos: start}, nil
		}
		return lx.punct(start)
	case c == '"' || c == '\'':
		s, err := lx.scanString()
		if err != nil {
			return token{}, err
		}
		return token{kind: tokString, text: s, pos: start}, nil
	case c == '@':
		lx.pos++
		tag := lx.scanWhile(func(r rune) bool { return isLetter(r) || isDigit(r) || r == '-' })
		if tag == "" {
			return token{}, lx.errorf(start, "empty language tag")
		}
		return token{kind: tokLangTag, text: tag, pos: start}, nil
	case isDigit(rune(c)) || (c == '.' && isDigit(lx.peekRune(1))):
		return lx.scanNumber(start), nil
	case c == '_' && lx.peekRune(1) == ':':
		lx.pos += 2
		label := lx.scanLocal()
		if label == "" {
			return token{}, lx.errorf(start, "empty blank node label")
		}
		return token{kind: tokBlank, text: label, pos: start}, nil
	case c == ':':
		lx.pos++
		local := lx.scanLocal()
		return token{kind: tokPName, text: ":" + local, pos: start}, nil
	}

	r := lx.peekRune(0)
	if isNameStart(r) {
		word := lx.scanWhile(func(r rune) bool { return isNameChar(r) || r == '.' })
		// a prefix may contain dots but not end with one
		for strings.HasSuffix(word, ".") {
			word = word[:len(word)-1]
			lx.pos--
		}
		if lx.pos < len(lx.src) && lx.src[lx.pos] == ':' {
			lx.pos++
			local := lx.scanLocal()
			return token{kind: tokPName, text: word + ":" + local, pos: start}, nil
		}
		return token{kind: tokKeyword, text: word, pos: start}, nil
	}

	return lx.punct(start)
}

// scanIRIRef consumes <...> when the bracket content has no whitespace.
func (lx *lexer) scanIRIRef() (string, bool) {
	end := lx.pos + 1
	for end < len(lx.src) {
		switch lx.src[end] {
		case '>':
			iri := lx.src[lx.pos+1 : end]
			lx.pos = end + 1
			return iri, true
		case ' ', '\t', '\n', '\r', '<', '"', '{', '}', '|', '^', '`', '\\':
			return "", false
		}
		end++
	}
	return "", false
}

var punctuations = []string{"^^", "&&", "||", "!=", "<=", ">=", "{", "}", "(", ")", "[", "]", ".", ";", ",", "*", "/", "^", "|", "+", "-", "?", "!", "=", "<", ">"}

func (lx *lexer) punct(start int) (token, error) {
	rest := lx.src[lx.pos:]
	for _, p := range punctuations {
		if strings.HasPrefix(rest, p) {
			lx.pos += len(p)
			return token{kind: tokPunct, text: p, pos: start}, nil
		}
	}
	r, _ := utf8.DecodeRuneInString(rest)
	return token{}, lx.errorf(start, "unexpected character %q", r)
}

func (lx *lexer) scanWhile(pred func(rune) bool) string {
	start := lx.pos
	for lx.pos < len(lx.src) {
		r, size := utf8.DecodeRuneInString(lx.src[lx.pos:])
		if !pred(r) {
			break
		}
		lx.pos += size
	}
	return lx.src[start:lx.pos]
}

func (lx *lexer) scanName() string {
	return lx.scanWhile(func(r rune) bool { return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) })
}

// scanLocal reads the local part of a prefixed name. Dots are allowed
// inside but a trailing dot ends the triple instead.
func (lx *lexer) scanLocal() string {
	local := lx.scanWhile(func(r rune) bool {
		return isNameChar(r) || r == '.' || r == ':' || r == '%'
	})
	for strings.HasSuffix(local, ".") {
		local = local[:len(local)-1]
		lx.pos--
	}
	return local
}

func (lx *lexer) scanNumber(start int) token {
	kind := tokInteger
	lx.scanWhile(isDigit)
	if lx.pos < len(lx.src) && lx.src[lx.pos] == '.' && isDigit(lx.peekRune(1)) {
		kind = tokDecimal
		lx.pos++
		lx.scanWhile(isDigit)
	}
	if lx.pos < len(lx.src) && (lx.src[lx.pos] == 'e' || lx.src[lx.pos] == 'E') {
		save := lx.pos
		lx.pos++
		if lx.pos < len(lx.src) && (lx.src[lx.pos] == '+' || lx.src[lx.pos] == '-') {
			lx.pos++
		}
		if isDigit(lx.peekRune(0)) {
			kind = tokDouble
			lx.scanWhile(isDigit)
		} else {
			lx.pos = save
		}
	}
	return token{kind: kind, text: lx.src[start:lx.pos], pos: start}
}

func (lx *lexer) scanString() (string, error) {
	start := lx.pos
	quote := lx.src[lx.pos]
	long := strings.HasPrefix(lx.src[lx.pos:], strings.Repeat(string(quote), 3))
	if long {
		lx.pos += 3
	} else {
		lx.pos++
	}

	var sb strings.Builder
	for lx.pos < len(lx.src) {
		c := lx.src[lx.pos]
		switch {
		case long && strings.HasPrefix(lx.src[lx.pos:], strings.Repeat(string(quote), 3)):
			lx.pos += 3
			return sb.String(), nil
		case !long && c == quote:
			lx.pos++
			return sb.String(), nil
		case !long && (c == '\n' || c == '\r'):
			return "", lx.errorf(start, "newline in string literal")
		case c == '\\':
			if lx.pos+1 >= len(lx.src) {
				return "", lx.errorf(lx.pos, "dangling escape")
			}
			esc := lx.src[lx.pos+1]
			lx.pos += 2
			switch esc {
			case 't':
				sb.WriteByte('\t')
			case 'n':
				sb.WriteByte('\n')
			case 'r':
				sb.WriteByte('\r')
			case 'b':
				sb.WriteByte('\b')
			case 'f':
				sb.WriteByte('\f')
			case '"', '\'', '\\':
				sb.WriteByte(esc)
			case 'u', 'U':
				n := 4
				if esc == 'U' {
					n = 8
				}
				if lx.pos+n > len(lx.src) {
					return "", lx.errorf(lx.pos, "short unicode escape")
				}
				var r rune
				if _, err := fmt.Sscanf(lx.src[lx.pos:lx.pos+n], "%x", &r); err != nil {
					return "", lx.errorf(lx.pos, "bad unicode escape")
				}
				sb.WriteRune(r)
				lx.pos += n
			default:
				return "", lx.errorf(lx.pos-2, "unknown escape \\%c", esc)
			}
		default:
			sb.WriteByte(c)
			lx.pos++
		}
	}
	return "", lx.errorf(start, "unterminated string literal")
}

func isDigit(r rune) bool  { return r >= '0' && r <= '9' }
func isLetter(r rune) bool { return unicode.IsLetter(r) }

func isNameStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isNameChar(r rune) bool {
	return r == '_' || r == '-' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
