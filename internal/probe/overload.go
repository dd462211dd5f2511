package probe

import (
	"github.com/ohler55/ojg/jp"
	"github.com/ohler55/ojg/oj"
)

// Overloaded reports whether body is a JSON document whose value at path is
// the boolean true. Bodies that do not decode, and values of any other type,
// mean the flag is absent.
func Overloaded(body []byte, path jp.Expr) bool {
	if len(body) == 0 {
		return false
	}
	doc, err := oj.Parse(body)
	if err != nil {
		return false
	}
	for _, v := range path.Get(doc) {
		if b, ok := v.(bool); ok && b {
			return true
		}
	}
	return false
}
