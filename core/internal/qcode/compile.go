package qcode

import (
	"fmt"
	"regexp"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// InvalidIdentifierError is returned when a value destined for an
// identifier-typed field cannot be coerced to an ObjectID.
type InvalidIdentifierError struct {
	Field string
	Value any
}

func (e *InvalidIdentifierError) Error() string {
	return fmt.Sprintf("invalid identifier for field %q: %v", e.Field, e.Value)
}

// InvalidPaginationError is returned for malformed or conflicting
// pagination parameters.
type InvalidPaginationError struct {
	Reason string
}

func (e *InvalidPaginationError) Error() string {
	return "invalid pagination: " + e.Reason
}

// Query is a compiled query: a native filter plus its sort, skip and limit
// clauses. Reverse marks a backward page whose results must be reversed
// in memory after the fetch to restore ascending natural order.
type Query struct {
	Filter  bson.M
	Sort    bson.D
	Skip    int64
	Limit   int64
	Reverse bool
}

// translateField maps the caller-facing "id" field to the native "_id" key.
func translateField(name string) string {
	if name == "id" {
		return "_id"
	}
	return name
}

// coerceID converts a caller value to the native identifier representation.
func coerceID(field string, v any) (any, error) {
	switch val := v.(type) {
	case bson.ObjectID:
		return val, nil
	case string:
		oid, err := bson.ObjectIDFromHex(val)
		if err != nil {
			return nil, &InvalidIdentifierError{Field: field, Value: v}
		}
		return oid, nil
	case nil:
		return nil, nil
	default:
		return nil, &InvalidIdentifierError{Field: field, Value: v}
	}
}

// CompileFilter lowers an Exp tree to a native filter document. A nil tree
// compiles to the empty filter, which matches everything.
func CompileFilter(exp *Exp, s *Schema) (bson.M, error) {
	if exp == nil {
		return bson.M{}, nil
	}

	switch exp.Op {
	case OpAnd, OpOr:
		if len(exp.Children) == 0 {
			return bson.M{}, nil
		}
		parts := make([]bson.M, 0, len(exp.Children))
		for _, child := range exp.Children {
			p, err := CompileFilter(child, s)
			if err != nil {
				return nil, err
			}
			parts = append(parts, p)
		}
		if exp.Op == OpAnd {
			return bson.M{"$and": parts}, nil
		}
		return bson.M{"$or": parts}, nil
	}

	return compileLeaf(exp, s)
}

func compileLeaf(exp *Exp, s *Schema) (bson.M, error) {
	field := translateField(exp.Field)
	value := exp.Value

	if s.IsID(exp.Field) {
		switch exp.Op {
		case OpEquals, OpNotEquals, OpLesserThan, OpLesserOrEquals,
			OpGreaterThan, OpGreaterOrEquals:
			v, err := coerceID(exp.Field, value)
			if err != nil {
				return nil, err
			}
			value = v
		case OpIn, OpNotIn:
			list := value.([]any)
			coerced := make([]any, len(list))
			for i, item := range list {
				v, err := coerceID(exp.Field, item)
				if err != nil {
					return nil, err
				}
				coerced[i] = v
			}
			value = coerced
		}
	}

	switch exp.Op {
	case OpEquals:
		return bson.M{field: value}, nil
	case OpNotEquals:
		return bson.M{field: bson.M{"$ne": value}}, nil
	case OpIn:
		return bson.M{field: bson.M{"$in": value}}, nil
	case OpNotIn:
		return bson.M{field: bson.M{"$nin": value}}, nil
	case OpLesserThan:
		return bson.M{field: bson.M{"$lt": value}}, nil
	case OpLesserOrEquals:
		return bson.M{field: bson.M{"$lte": value}}, nil
	case OpGreaterThan:
		return bson.M{field: bson.M{"$gt": value}}, nil
	case OpGreaterOrEquals:
		return bson.M{field: bson.M{"$gte": value}}, nil
	case OpContains, OpNotContains, OpStartsWith, OpEndsWith:
		str, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("filter: %s operator on %q expects a string, got %T",
				opName(exp.Op), exp.Field, value)
		}
		re := bson.Regex{Pattern: regexp.QuoteMeta(str)}
		switch exp.Op {
		case OpStartsWith:
			re.Pattern = "^" + re.Pattern
		case OpEndsWith:
			re.Pattern += "$"
		}
		if exp.Op == OpNotContains {
			return bson.M{field: bson.M{"$not": re}}, nil
		}
		return bson.M{field: re}, nil
	}
	return nil, fmt.Errorf("filter: unsupported operator on %q", exp.Field)
}

func opName(op ExpOp) string {
	switch op {
	case OpContains:
		return "contains"
	case OpNotContains:
		return "notContains"
	case OpStartsWith:
		return "startsWith"
	case OpEndsWith:
		return "endsWith"
	default:
		return fmt.Sprintf("op(%d)", op)
	}
}

// Compile lowers a filter document plus its pagination block into a Query.
//
// A `first` page maps directly to a limit. A `last` page flips the sort
// direction, applies the limit, and sets Reverse so the executor restores
// ascending natural order in memory after the fetch. The _id field is
// always appended as a secondary sort key so ties page deterministically.
func Compile(filter map[string]any, pag *Pagination, s *Schema) (*Query, error) {
	exp, err := ParseFilter(filter)
	if err != nil {
		return nil, err
	}
	native, err := CompileFilter(exp, s)
	if err != nil {
		return nil, err
	}

	q := &Query{Filter: native}

	orderField, asc := "_id", true
	if pag != nil && pag.OrderBy != "" {
		orderField, asc, err = parseOrderBy(pag.OrderBy)
		if err != nil {
			return nil, err
		}
	}

	if pag != nil {
		if err := validateCounts(pag); err != nil {
			return nil, err
		}

		if pag.After != "" {
			if err := q.applyCursor(pag.After, false, asc, s); err != nil {
				return nil, err
			}
		}
		if pag.Before != "" {
			if err := q.applyCursor(pag.Before, true, asc, s); err != nil {
				return nil, err
			}
		}

		switch {
		case pag.First != nil:
			q.Limit = int64(*pag.First)
		case pag.Last != nil:
			q.Limit = int64(*pag.Last)
			asc = !asc
			q.Reverse = true
		}
		if pag.Skip != nil {
			q.Skip = int64(*pag.Skip)
		}
	}

	dir := 1
	if !asc {
		dir = -1
	}
	q.Sort = bson.D{{Key: orderField, Value: dir}}
	if orderField != "_id" {
		q.Sort = append(q.Sort, bson.E{Key: "_id", Value: dir})
	}
	return q, nil
}

func validateCounts(pag *Pagination) error {
	if pag.First != nil && pag.Last != nil {
		return &InvalidPaginationError{Reason: "first and last are mutually exclusive"}
	}
	if pag.Skip != nil && (pag.First != nil || pag.Last != nil) {
		return &InvalidPaginationError{Reason: "skip cannot be combined with first or last"}
	}
	if pag.First != nil && *pag.First < 0 {
		return &InvalidPaginationError{Reason: "first must not be negative"}
	}
	if pag.Last != nil && *pag.Last < 0 {
		return &InvalidPaginationError{Reason: "last must not be negative"}
	}
	if pag.Skip != nil && *pag.Skip < 0 {
		return &InvalidPaginationError{Reason: "skip must not be negative"}
	}
	return nil
}

// parseOrderBy splits an orderBy value of the form field, field_ASC or
// field_DESC.
func parseOrderBy(orderBy string) (string, bool, error) {
	field, asc := orderBy, true
	switch {
	case len(orderBy) > 4 && orderBy[len(orderBy)-4:] == "_ASC":
		field = orderBy[:len(orderBy)-4]
	case len(orderBy) > 5 && orderBy[len(orderBy)-5:] == "_DESC":
		field = orderBy[:len(orderBy)-5]
		asc = false
	}
	if field == "" {
		return "", false, &InvalidPaginationError{Reason: "orderBy requires a field name"}
	}
	return translateField(field), asc, nil
}

// applyCursor decodes a cursor token into an inequality condition on the
// ordering field and ANDs it with the compiled filter. `after` moves along
// the sort direction, `before` against it.
func (q *Query) applyCursor(token string, before, asc bool, s *Schema) error {
	field, value, err := DecodeCursor(token)
	if err != nil {
		return err
	}
	if s.IsID(field) {
		value, err = coerceID(field, value)
		if err != nil {
			return err
		}
	}

	forward := asc != before // true means "greater than the boundary"
	op := "$gt"
	if !forward {
		op = "$lt"
	}
	cond := bson.M{translateField(field): bson.M{op: value}}

	if len(q.Filter) == 0 {
		q.Filter = cond
	} else {
		q.Filter = bson.M{"$and": []bson.M{q.Filter, cond}}
	}
	return nil
}
