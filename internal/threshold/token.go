// Package threshold parses threshold expressions such as "p(95)<800" into a small
// AST once at run start and evaluates them against metric snapshots.
package threshold

// TokenType represents the type of a token.
type TokenType int

const (
	TokenEOF TokenType = iota
	TokenIllegal

	TokenIdent  // aggregation name
	TokenNumber // numeric literal

	TokenEQ // ==
	TokenNE // !=
	TokenLT // <
	TokenGT // >
	TokenLE // <=
	TokenGE // >=

	TokenLParen // (
	TokenRParen // )
)

// String returns the string representation of the token type.
func (t TokenType) String() string {
	switch t {
	case TokenEOF:
		return "end of expression"
	case TokenIllegal:
		return "ILLEGAL"
	case TokenIdent:
		return "aggregation"
	case TokenNumber:
		return "number"
	case TokenEQ:
		return "=="
	case TokenNE:
		return "!="
	case TokenLT:
		return "<"
	case TokenGT:
		return ">"
	case TokenLE:
		return "<="
	case TokenGE:
		return ">="
	case TokenLParen:
		return "("
	case TokenRParen:
		return ")"
	default:
		return "UNKNOWN"
	}
}

// Token is a lexical token with its position in the input.
type Token struct {
	Type    TokenType
	Literal string
	Pos     int
}

func isOperator(t TokenType) bool {
	switch t {
	case TokenEQ, TokenNE, TokenLT, TokenGT, TokenLE, TokenGE:
		return true
	}
	return false
}
