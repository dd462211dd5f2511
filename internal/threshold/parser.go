package threshold

import (
	"math"
	"strconv"
)

// Parser parses a single threshold expression.
type Parser struct {
	input     string
	lexer     *Lexer
	curToken  Token
	peekToken Token
}

// NewParser creates a new Parser for the given input.
func NewParser(input string) *Parser {
	p := &Parser{input: input, lexer: NewLexer(input)}
	p.nextToken()
	p.nextToken()
	return p
}

func (p *Parser) nextToken() {
	p.curToken = p.peekToken
	p.peekToken = p.lexer.NextToken()
}

func (p *Parser) errorf(expected string) *ParseError {
	got := p.curToken.Literal
	if p.curToken.Type == TokenEOF {
		got = "end of expression"
	}
	return NewParseError(p.input, p.curToken.Pos, expected, got)
}

// Parse parses the whole input as <aggregation> <op> <number>.
func (p *Parser) Parse() (*Comparison, error) {
	c := &Comparison{}
	if err := p.parseAggregation(c); err != nil {
		return nil, err
	}

	if !isOperator(p.curToken.Type) {
		return nil, p.errorf("comparison operator")
	}
	c.Op = operatorFor(p.curToken.Type)
	p.nextToken()

	lit, err := p.parseNumber()
	if err != nil {
		return nil, err
	}
	c.Literal = lit

	if p.curToken.Type != TokenEOF {
		return nil, p.errorf("end of expression")
	}
	return c, nil
}

func (p *Parser) parseAggregation(c *Comparison) error {
	if p.curToken.Type != TokenIdent {
		return p.errorf("aggregation")
	}
	agg, ok := aggregationNames[p.curToken.Literal]
	if !ok {
		return p.errorf("aggregation")
	}
	c.Aggregation = agg
	p.nextToken()

	if agg != AggPercentile {
		return nil
	}

	if p.curToken.Type != TokenLParen {
		return p.errorf("(")
	}
	p.nextToken()

	pos := p.curToken.Pos
	pct, err := p.parseNumber()
	if err != nil {
		return err
	}
	if pct <= 0 || pct > 100 {
		return NewParseError(p.input, pos, "percentile in (0,100]", strconv.FormatFloat(pct, 'f', -1, 64))
	}
	c.Percentile = pct

	if p.curToken.Type != TokenRParen {
		return p.errorf(")")
	}
	p.nextToken()
	return nil
}

func (p *Parser) parseNumber() (float64, error) {
	if p.curToken.Type != TokenNumber {
		return 0, p.errorf("number")
	}
	v, err := strconv.ParseFloat(p.curToken.Literal, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, p.errorf("number")
	}
	p.nextToken()
	return v, nil
}

// ParseExpression parses a threshold expression such as "p(95)<800".
func ParseExpression(input string) (*Comparison, error) {
	return NewParser(input).Parse()
}
