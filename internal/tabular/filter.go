package tabular

import (
	"fmt"
	"strings"
)

// Op is a comparison operator usable in a scalar filter.
type Op string

const (
	OpEq   Op = "="
	OpNeq  Op = "!="
	OpLt   Op = "<"
	OpLte  Op = "<="
	OpGt   Op = ">"
	OpGte  Op = ">="
	OpLike Op = "like"
)

// Cond compares one scalar field against a literal value.
type Cond struct {
	Field string `json:"field"`
	Op    Op     `json:"op"`
	Value any    `json:"value"`
}

// Predicate is a conjunction of scalar conditions. A nil predicate or
// one with no conditions matches every row.
type Predicate struct {
	Conds []Cond `json:"conds"`
}

// Where starts a predicate with one condition.
func Where(field string, op Op, value any) *Predicate {
	return &Predicate{Conds: []Cond{{Field: field, Op: op, Value: value}}}
}

// And appends a condition.
func (p *Predicate) And(field string, op Op, value any) *Predicate {
	p.Conds = append(p.Conds, Cond{Field: field, Op: op, Value: value})
	return p
}

// Empty reports whether the predicate matches every row.
func (p *Predicate) Empty() bool {
	return p == nil || len(p.Conds) == 0
}

// Validate checks that every condition references an existing scalar
// field of the schema and uses a known operator. Vector fields cannot
// be filtered on.
func (p *Predicate) Validate(schema Schema) error {
	if p.Empty() {
		return nil
	}
	for _, c := range p.Conds {
		f, ok := schema.Field(c.Field)
		if !ok {
			return fmt.Errorf("filter field %q not in schema", c.Field)
		}
		if f.IsVector() {
			return fmt.Errorf("filter field %q is a vector column", c.Field)
		}
		switch c.Op {
		case OpEq, OpNeq, OpLt, OpLte, OpGt, OpGte, OpLike:
		default:
			return fmt.Errorf("unknown filter operator %q", c.Op)
		}
	}
	return nil
}

// SQL renders the predicate as a parameterized WHERE fragment. The
// caller validates the predicate against a schema first; field names
// are quoted, values are bound as arguments.
func (p *Predicate) SQL() (string, []any) {
	if p.Empty() {
		return "", nil
	}
	parts := make([]string, 0, len(p.Conds))
	args := make([]any, 0, len(p.Conds))
	for _, c := range p.Conds {
		op := string(c.Op)
		if c.Op == OpLike {
			op = "LIKE"
		}
		parts = append(parts, fmt.Sprintf("%s %s ?", QuoteIdent(c.Field), op))
		args = append(args, c.Value)
	}
	return strings.Join(parts, " AND "), args
}

// QuoteIdent quotes an identifier for SQL, doubling embedded quotes.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
