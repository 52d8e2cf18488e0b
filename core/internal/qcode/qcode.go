// Package qcode compiles the declarative filter language into native
// MongoDB queries. A filter document is a JSON-like tree of
// {AND|OR: [...]} combinators and {field(_operator)?: value} leaves, with
// an optional pagination block of {orderBy, skip, after, before, first,
// last} parameters.
package qcode

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mitchellh/mapstructure"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// ExpOp identifies a filter tree node.
type ExpOp int8

const (
	OpNop ExpOp = iota
	OpAnd
	OpOr
	OpEquals
	OpNotEquals
	OpIn
	OpNotIn
	OpLesserThan
	OpLesserOrEquals
	OpGreaterThan
	OpGreaterOrEquals
	OpContains
	OpNotContains
	OpStartsWith
	OpEndsWith
)

// Exp is a node in the parsed filter tree: either a combinator with ordered
// children or a leaf holding a field, an operator and a value.
type Exp struct {
	Op       ExpOp
	Children []*Exp
	Field    string
	Value    any
}

// suffixOps maps the operator suffix convention on field names. Longest
// suffixes come first so field_notIn never parses as field_not + "In".
var suffixOps = []struct {
	suffix string
	op     ExpOp
}{
	{"_notContains", OpNotContains},
	{"_startsWith", OpStartsWith},
	{"_endsWith", OpEndsWith},
	{"_contains", OpContains},
	{"_notIn", OpNotIn},
	{"_gte", OpGreaterOrEquals},
	{"_lte", OpLesserOrEquals},
	{"_not", OpNotEquals},
	{"_gt", OpGreaterThan},
	{"_lt", OpLesserThan},
	{"_in", OpIn},
}

// splitOperator splits a filter key into its field name and operator. A
// bare field name means equality.
func splitOperator(key string) (string, ExpOp) {
	for _, s := range suffixOps {
		if strings.HasSuffix(key, s.suffix) && len(key) > len(s.suffix) {
			return strings.TrimSuffix(key, s.suffix), s.op
		}
	}
	return key, OpEquals
}

// ParseFilter turns a filter document into an Exp tree. An empty or nil
// document parses to nil, which compiles to match-everything. Multiple keys
// in one document are an implicit AND; keys are visited in sorted order so
// compilation is deterministic.
func ParseFilter(filter map[string]any) (*Exp, error) {
	if len(filter) == 0 {
		return nil, nil
	}

	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	nodes := make([]*Exp, 0, len(keys))
	for _, k := range keys {
		node, err := parseNode(k, filter[k])
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}

	if len(nodes) == 1 {
		return nodes[0], nil
	}
	return &Exp{Op: OpAnd, Children: nodes}, nil
}

func parseNode(key string, value any) (*Exp, error) {
	switch key {
	case "AND", "OR":
		op := OpAnd
		if key == "OR" {
			op = OpOr
		}
		list, ok := asList(value)
		if !ok {
			return nil, fmt.Errorf("filter: %s expects a list, got %T", key, value)
		}
		children := make([]*Exp, 0, len(list))
		for _, item := range list {
			m, ok := asMap(item)
			if !ok {
				return nil, fmt.Errorf("filter: %s children must be objects, got %T", key, item)
			}
			child, err := ParseFilter(m)
			if err != nil {
				return nil, err
			}
			if child != nil {
				children = append(children, child)
			}
		}
		return &Exp{Op: op, Children: children}, nil
	}

	field, op := splitOperator(key)
	switch op {
	case OpIn, OpNotIn:
		list, ok := asList(value)
		if !ok {
			return nil, fmt.Errorf("filter: %s expects a list value, got %T", key, value)
		}
		value = list
	}
	return &Exp{Op: op, Field: field, Value: value}, nil
}

// asMap unwraps document values regardless of the map type the caller
// used.
func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case bson.M:
		return m, true
	}
	return nil, false
}

// asList unwraps list values, normalizing to []any.
func asList(v any) ([]any, bool) {
	switch l := v.(type) {
	case []any:
		return l, true
	case bson.A:
		return l, true
	}
	return nil, false
}

// Schema enumerates the fields a repository knows about. Fields absent from
// the set pass through untouched; they may be virtual fields produced by a
// relation join. IDFields are coerced to ObjectID at compile time.
type Schema struct {
	Fields   map[string]bool
	IDFields map[string]bool
}

// NewSchema builds a schema from field name lists. The "id" field is always
// identifier-typed.
func NewSchema(fields, idFields []string) *Schema {
	s := &Schema{
		Fields:   make(map[string]bool, len(fields)),
		IDFields: make(map[string]bool, len(idFields)+1),
	}
	for _, f := range fields {
		s.Fields[f] = true
	}
	s.IDFields["id"] = true
	for _, f := range idFields {
		s.IDFields[f] = true
	}
	return s
}

// IsID reports whether values for the field must be coerced to the native
// identifier representation.
func (s *Schema) IsID(field string) bool {
	if field == "id" || field == "_id" {
		return true
	}
	return s != nil && s.IDFields[field]
}

// Pagination is the pagination block of a query: an ordering key, an
// offset, cursor boundaries, and forward/backward page sizes.
type Pagination struct {
	OrderBy string `mapstructure:"orderBy"`
	Skip    *int   `mapstructure:"skip"`
	First   *int   `mapstructure:"first"`
	Last    *int   `mapstructure:"last"`
	After   string `mapstructure:"after"`
	Before  string `mapstructure:"before"`
}

var paginationKeys = map[string]bool{
	"orderBy": true,
	"skip":    true,
	"first":   true,
	"last":    true,
	"after":   true,
	"before":  true,
}

// SplitArgs separates filter keys from the pagination block of a query
// document. The transport layer sends both in one object.
func SplitArgs(args map[string]any) (map[string]any, *Pagination, error) {
	if len(args) == 0 {
		return nil, nil, nil
	}

	filter := make(map[string]any, len(args))
	pagRaw := make(map[string]any)
	for k, v := range args {
		if paginationKeys[k] {
			pagRaw[k] = v
		} else {
			filter[k] = v
		}
	}

	if len(pagRaw) == 0 {
		return filter, nil, nil
	}

	var pag Pagination
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &pag,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, nil, err
	}
	if err := dec.Decode(pagRaw); err != nil {
		return nil, nil, &InvalidPaginationError{Reason: err.Error()}
	}
	return filter, &pag, nil
}
