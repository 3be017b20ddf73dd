package scanner

import (
	"strconv"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

// DirectiveKeyword starts every remap directive line.
const DirectiveKeyword = "#line"

var (
	directiveLexer = lexer.MustSimple([]lexer.SimpleRule{
		{Name: "Keyword", Pattern: `#line\b`},
		{Name: "QNumber", Pattern: `"\d+"|'\d+'`},
		{Name: "Number", Pattern: `\d+`},
		{Name: "QString", Pattern: `"[^"]*"|'[^']*'`},
		{Name: "Bare", Pattern: `\S+`},
		{Name: "Whitespace", Pattern: `[ \t]+`},
	})

	directiveParser = participle.MustBuild[directive](
		participle.Lexer(directiveLexer),
		participle.Elide("Whitespace"),
	)
)

// directive is the grammar of a remap line:
//
//	#line 42
//	#line 42 "include/util.sql"
//	#line '42' 'util.sql'
type directive struct {
	Line string  `parser:"Keyword @(Number | QNumber)"`
	File *string `parser:"@(QString | QNumber | Number | Bare)?"`
}

// Directive is a parsed remap directive.
type Directive struct {
	Line int
	// File is empty when the directive keeps the current file.
	File string
}

// ParseDirective parses line as a remap directive. Malformed directives are
// reported as not matching so the caller treats them as plain text.
func ParseDirective(line string) (Directive, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, DirectiveKeyword) {
		return Directive{}, false
	}
	d, err := directiveParser.ParseString("", line)
	if err != nil {
		return Directive{}, false
	}
	n, err := strconv.Atoi(unquote(d.Line))
	if err != nil {
		return Directive{}, false
	}
	out := Directive{Line: n}
	if d.File != nil {
		out.File = unquote(*d.File)
	}
	return out, true
}

// unquote strips one pair of matching single or double quotes.
func unquote(s string) string {
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}
