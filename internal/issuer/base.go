package issuer

import (
	"strings"

	"github.com/shopspring/decimal"

	"mailmint/internal/model"
	"mailmint/internal/util"
)

// BaseParser tries its rules against the whole body in order; the first rule
// that matches with a parseable amount, a merchant and an account wins.
type BaseParser struct {
	name  string
	rules []Rule
}

func NewBaseParser(name string, rules []Rule) *BaseParser {
	return &BaseParser{name: name, rules: rules}
}

func (p *BaseParser) Name() string { return p.name }

func (p *BaseParser) Parse(body string) (model.ParsedTransaction, bool) {
	for _, r := range p.rules {
		m := r.Re.FindStringSubmatch(body)
		if m == nil {
			continue
		}
		amount, err := util.ParseAmount(m[r.Re.SubexpIndex("amount")])
		if err != nil {
			continue
		}
		merchant := strings.TrimSpace(m[r.Re.SubexpIndex("merchant")])
		account := strings.TrimSpace(m[r.Re.SubexpIndex("account")])
		if merchant == "" || account == "" {
			continue
		}
		return model.ParsedTransaction{
			Amount:   amount.Mul(decimal.NewFromInt(int64(r.Direction))),
			Merchant: merchant,
			Account:  accountLabel(p.name, account),
		}, true
	}
	return model.ParsedTransaction{}, false
}
