package threshold

// Lexer tokenizes threshold expressions.
type Lexer struct {
	input   string
	pos     int  // current position in input
	readPos int  // position after the current char
	ch      byte // current char, 0 at end of input
}

// NewLexer creates a new Lexer for the given input.
func NewLexer(input string) *Lexer {
	l := &Lexer{input: input}
	l.readChar()
	return l
}

func (l *Lexer) readChar() {
	if l.readPos >= len(l.input) {
		l.ch = 0
	} else {
		l.ch = l.input[l.readPos]
	}
	l.pos = l.readPos
	l.readPos++
}

func (l *Lexer) peekChar() byte {
	if l.readPos >= len(l.input) {
		return 0
	}
	return l.input[l.readPos]
}

// NextToken returns the next token from the input.
func (l *Lexer) NextToken() Token {
	for l.ch == ' ' || l.ch == '\t' || l.ch == '\n' || l.ch == '\r' {
		l.readChar()
	}

	tok := Token{Pos: l.pos}

	switch l.ch {
	case '=':
		if l.peekChar() != '=' {
			tok.Type, tok.Literal = TokenIllegal, "="
			break
		}
		l.readChar()
		tok.Type, tok.Literal = TokenEQ, "=="
	case '!':
		if l.peekChar() != '=' {
			tok.Type, tok.Literal = TokenIllegal, "!"
			break
		}
		l.readChar()
		tok.Type, tok.Literal = TokenNE, "!="
	case '<':
		if l.peekChar() == '=' {
			l.readChar()
			tok.Type, tok.Literal = TokenLE, "<="
		} else {
			tok.Type, tok.Literal = TokenLT, "<"
		}
	case '>':
		if l.peekChar() == '=' {
			l.readChar()
			tok.Type, tok.Literal = TokenGE, ">="
		} else {
			tok.Type, tok.Literal = TokenGT, ">"
		}
	case '(':
		tok.Type, tok.Literal = TokenLParen, "("
	case ')':
		tok.Type, tok.Literal = TokenRParen, ")"
	case 0:
		tok.Type = TokenEOF
		return tok
	default:
		if isDigit(l.ch) || ((l.ch == '-' || l.ch == '.') && (isDigit(l.peekChar()) || l.peekChar() == '.')) {
			return l.readNumber()
		}
		if isLetter(l.ch) {
			return l.readIdentifier()
		}
		tok.Type, tok.Literal = TokenIllegal, string(l.ch)
	}

	l.readChar()
	return tok
}

func (l *Lexer) readIdentifier() Token {
	pos := l.pos
	for isLetter(l.ch) || isDigit(l.ch) {
		l.readChar()
	}
	return Token{Type: TokenIdent, Literal: l.input[pos:l.pos], Pos: pos}
}

// readNumber accepts an optional sign, digits, a fraction and an exponent.
// Validation of the literal is left to strconv in the parser.
func (l *Lexer) readNumber() Token {
	pos := l.pos
	if l.ch == '-' {
		l.readChar()
	}
	for isDigit(l.ch) || l.ch == '.' {
		l.readChar()
	}
	if l.ch == 'e' || l.ch == 'E' {
		l.readChar()
		if l.ch == '-' || l.ch == '+' {
			l.readChar()
		}
		for isDigit(l.ch) {
			l.readChar()
		}
	}
	return Token{Type: TokenNumber, Literal: l.input[pos:l.pos], Pos: pos}
}

func isLetter(ch byte) bool {
	return ('a' <= ch && ch <= 'z') || ('A' <= ch && ch <= 'Z') || ch == '_'
}

func isDigit(ch byte) bool {
	return '0' <= ch && ch <= '9'
}
