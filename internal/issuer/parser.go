// Package issuer turns notification email bodies into transactions, one
// parser per bank or card issuer.
package issuer

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"mailmint/internal/config"
	"mailmint/internal/model"
)

var (
	ErrUnknownParser  = errors.New("unknown parser class")
	ErrNoPatterns     = errors.New("no patterns configured")
	ErrInvalidPattern = errors.New("invalid pattern")
)

// Parser extracts a transaction from one HTML body. The boolean is false when
// nothing recognizable was found; that is not an error.
type Parser interface {
	Name() string
	Parse(body string) (model.ParsedTransaction, bool)
}

// Parser classes accepted in parser_class.
const (
	ClassBase = "base"
	ClassHDFC = "hdfc"
)

// classAliases lets older configs name parsers by their dotted class path.
var classAliases = map[string]string{
	"":                                       ClassBase,
	"mailmint.issuers.base.BaseIssuerParser": ClassBase,
	"mailmint.issuers.hdfc.HDFCBankParser":   ClassHDFC,
}

// Rule is a compiled pattern with its sign.
type Rule struct {
	Re        *regexp.Regexp
	Direction int
}

// New resolves the issuer's parser class and builds the parser. Unknown
// classes, uncompilable patterns and pattern-less base parsers are rejected
// here so a bad config fails before any mailbox call is made.
func New(iss config.Issuer) (Parser, error) {
	class, err := resolveClass(iss.ParserClass)
	if err != nil {
		return nil, &config.ConfigError{Issuer: iss.Name, Err: err}
	}
	rules, err := compileRules(iss.Patterns)
	if err != nil {
		return nil, &config.ConfigError{Issuer: iss.Name, Err: err}
	}

	switch class {
	case ClassHDFC:
		return NewHDFCParser(iss.Name), nil
	default:
		if len(rules) == 0 {
			return nil, &config.ConfigError{Issuer: iss.Name, Err: ErrNoPatterns}
		}
		return NewBaseParser(iss.Name, rules), nil
	}
}

func resolveClass(name string) (string, error) {
	key := strings.TrimSpace(name)
	if c, ok := classAliases[key]; ok {
		return c, nil
	}
	switch strings.ToLower(key) {
	case ClassBase:
		return ClassBase, nil
	case ClassHDFC:
		return ClassHDFC, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownParser, name)
}

func compileRules(patterns []config.Pattern) ([]Rule, error) {
	rules := make([]Rule, 0, len(patterns))
	for i, p := range patterns {
		re, err := regexp.Compile(p.Pattern)
		if err != nil {
			return nil, fmt.Errorf("%w: pattern %d: %v", ErrInvalidPattern, i+1, err)
		}
		for _, group := range []string{"amount", "merchant", "account"} {
			if re.SubexpIndex(group) < 0 {
				return nil, fmt.Errorf("%w: pattern %d: missing named group %q", ErrInvalidPattern, i+1, group)
			}
		}
		if p.Direction != 1 && p.Direction != -1 {
			return nil, fmt.Errorf("pattern %d: %w", i+1, config.ErrInvalidDirection)
		}
		rules = append(rules, Rule{Re: re, Direction: p.Direction})
	}
	return rules, nil
}

func accountLabel(issuer, digits string) string {
	return issuer + " xx" + digits
}
