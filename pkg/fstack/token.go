package fstack

import "fmt"

// Kind identifies the category of a lexed Token.
type Kind int

const (
	EOF Kind = iota
	Newline
	Identifier
	Keyword
	Number      // integer or fixed-point literal
	StringToken // quoted string, already unescaped
	Operator    // punctuation / operator lexeme, matched verbatim
)

var kindNames = [...]string{
	EOF:         "EOF",
	Newline:     "NEWLINE",
	Identifier:  "IDENTIFIER",
	Keyword:     "KEYWORD",
	Number:      "NUMBER",
	StringToken: "STRING",
	Operator:    "OPERATOR",
}

func (k Kind) String() string {
	if int(k) >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Token is a single lexical unit produced by the Lexer, spec.md §4.1.
type Token struct {
	Kind         Kind
	Text         string // matched text (identifiers/operators), uppercased name (keywords), decoded value (strings); empty for numbers
	Value        int64  // numeric value, valid when Kind == Number and !IsFixedPoint
	Fixed        int32  // Q16.16 fixed-point value, valid when Kind == Number && IsFixedPoint
	IsFixedPoint bool
	Line         int
}

func (t Token) String() string {
	return fmt.Sprintf("%-10s %-14q line %d", t.Kind, t.Text, t.Line)
}
