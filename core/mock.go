package core

import (
	"context"
	"sort"
	"strings"
	"sync"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/docrel/docrel/core/internal/qcode"
)

// memCollection is an in-memory collection used by tests. It evaluates the
// filter documents the compiler produces against plain bson.M records, so
// repository behavior can be exercised without a live server.
type memCollection struct {
	mu   sync.Mutex
	docs []bson.M
}

func newMemCollection(docs ...bson.M) *memCollection {
	c := &memCollection{}
	for _, d := range docs {
		c.docs = append(c.docs, cloneDoc(d))
	}
	return c
}

func cloneDoc(d bson.M) bson.M {
	out := make(bson.M, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

func (c *memCollection) Find(ctx context.Context, q *qcode.Query) ([]bson.M, error) {
	c.mu.Lock()
	var out []bson.M
	for _, d := range c.docs {
		if matchFilter(d, q.Filter) {
			out = append(out, cloneDoc(d))
		}
	}
	c.mu.Unlock()

	sortDocs(out, q.Sort)

	if q.Skip > 0 {
		if q.Skip >= int64(len(out)) {
			out = nil
		} else {
			out = out[q.Skip:]
		}
	}
	if q.Limit > 0 && int64(len(out)) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (c *memCollection) FindOne(ctx context.Context, filter bson.M) (bson.M, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, d := range c.docs {
		if matchFilter(d, filter) {
			return cloneDoc(d), nil
		}
	}
	return nil, nil
}

func (c *memCollection) InsertOne(ctx context.Context, doc bson.M) (bson.M, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d := cloneDoc(doc)
	if _, ok := d["_id"]; !ok {
		d["_id"] = bson.NewObjectID()
	}
	c.docs = append(c.docs, d)
	return cloneDoc(d), nil
}

func (c *memCollection) UpdateOne(ctx context.Context, filter bson.M, update bson.M) (bson.M, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, d := range c.docs {
		if matchFilter(d, filter) {
			for k, v := range update {
				d[k] = v
			}
			return cloneDoc(d), nil
		}
	}
	return nil, nil
}

func (c *memCollection) DeleteOne(ctx context.Context, filter bson.M) (bson.M, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, d := range c.docs {
		if matchFilter(d, filter) {
			c.docs = append(c.docs[:i], c.docs[i+1:]...)
			return cloneDoc(d), nil
		}
	}
	return nil, nil
}

func (c *memCollection) Aggregate(ctx context.Context, stages []bson.D) ([]bson.M, error) {
	// The in-memory store only understands $match, $sort, $skip and $limit.
	// Join and reshape stages need a live server.
	c.mu.Lock()
	out := make([]bson.M, 0, len(c.docs))
	for _, d := range c.docs {
		out = append(out, cloneDoc(d))
	}
	c.mu.Unlock()

	for _, stage := range stages {
		if len(stage) == 0 {
			continue
		}
		op := stage[0]
		switch op.Key {
		case "$match":
			filter, _ := op.Value.(bson.M)
			var kept []bson.M
			for _, d := range out {
				if matchFilter(d, filter) {
					kept = append(kept, d)
				}
			}
			out = kept
		case "$sort":
			if s, ok := op.Value.(bson.D); ok {
				sortDocs(out, s)
			}
		case "$skip":
			n := toInt64(op.Value)
			if n >= int64(len(out)) {
				out = nil
			} else {
				out = out[n:]
			}
		case "$limit":
			n := toInt64(op.Value)
			if n < int64(len(out)) {
				out = out[:n]
			}
		}
	}
	return out, nil
}

func matchFilter(doc bson.M, filter bson.M) bool {
	for k, v := range filter {
		switch k {
		case "$and":
			for _, sub := range toFilterList(v) {
				if !matchFilter(doc, sub) {
					return false
				}
			}
		case "$or":
			hit := false
			for _, sub := range toFilterList(v) {
				if matchFilter(doc, sub) {
					hit = true
					break
				}
			}
			if !hit {
				return false
			}
		default:
			if !matchField(doc[k], v) {
				return false
			}
		}
	}
	return true
}

func toFilterList(v any) []bson.M {
	switch list := v.(type) {
	case []bson.M:
		return list
	case bson.A:
		out := make([]bson.M, 0, len(list))
		for _, e := range list {
			if m, ok := e.(bson.M); ok {
				out = append(out, m)
			}
		}
		return out
	}
	return nil
}

func matchField(val any, cond any) bool {
	switch c := cond.(type) {
	case bson.M:
		for op, arg := range c {
			if !matchOp(val, op, arg) {
				return false
			}
		}
		return true
	case bson.Regex:
		return matchRegex(val, c)
	default:
		return compareValues(val, cond) == 0
	}
}

func matchOp(val any, op string, arg any) bool {
	switch op {
	case "$ne":
		return compareValues(val, arg) != 0
	case "$in":
		return inList(val, arg)
	case "$nin":
		return !inList(val, arg)
	case "$lt":
		return compareValues(val, arg) < 0
	case "$lte":
		return compareValues(val, arg) <= 0
	case "$gt":
		return compareValues(val, arg) > 0
	case "$gte":
		return compareValues(val, arg) >= 0
	case "$not":
		return !matchField(val, arg)
	case "$exists":
		want, _ := arg.(bool)
		return (val != nil) == want
	}
	return false
}

func inList(val any, arg any) bool {
	var list []any
	switch a := arg.(type) {
	case bson.A:
		list = a
	case []any:
		list = a
	}
	for _, e := range list {
		if compareValues(val, e) == 0 {
			return true
		}
	}
	return false
}

// matchRegex follows server semantics: a regex against an array field
// matches when any element matches.
func matchRegex(val any, re bson.Regex) bool {
	switch list := val.(type) {
	case bson.A:
		for _, e := range list {
			if matchRegex(e, re) {
				return true
			}
		}
		return false
	case []any:
		for _, e := range list {
			if matchRegex(e, re) {
				return true
			}
		}
		return false
	case []string:
		for _, e := range list {
			if matchRegex(e, re) {
				return true
			}
		}
		return false
	}

	s, ok := val.(string)
	if !ok {
		return false
	}
	pat := re.Pattern
	switch {
	case strings.HasPrefix(pat, "^") && strings.HasSuffix(pat, "$"):
		return s == unquotePattern(strings.TrimSuffix(strings.TrimPrefix(pat, "^"), "$"))
	case strings.HasPrefix(pat, "^"):
		return strings.HasPrefix(s, unquotePattern(strings.TrimPrefix(pat, "^")))
	case strings.HasSuffix(pat, "$"):
		return strings.HasSuffix(s, unquotePattern(strings.TrimSuffix(pat, "$")))
	default:
		return strings.Contains(s, unquotePattern(pat))
	}
}

func unquotePattern(pat string) string {
	return strings.NewReplacer(
		`\.`, ".", `\+`, "+", `\*`, "*", `\?`, "?", `\(`, "(", `\)`, ")",
		`\[`, "[", `\]`, "]", `\{`, "{", `\}`, "}", `\^`, "^", `\$`, "$",
		`\\`, `\`, `\|`, "|",
	).Replace(pat)
}

func compareValues(a, b any) int {
	if an, aok := toFloat(a); aok {
		if bn, bok := toFloat(b); bok {
			switch {
			case an < bn:
				return -1
			case an > bn:
				return 1
			}
			return 0
		}
	}
	as, aok := stringify(a)
	bs, bok := stringify(b)
	if aok && bok {
		return strings.Compare(as, bs)
	}
	if a == b {
		return 0
	}
	return 1
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func toInt64(v any) int64 {
	n, _ := toFloat(v)
	return int64(n)
}

func stringify(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case bson.ObjectID:
		return s.Hex(), true
	case bool:
		if s {
			return "true", true
		}
		return "false", true
	}
	return "", false
}

func sortDocs(docs []bson.M, keys bson.D) {
	if len(keys) == 0 {
		return
	}
	sort.SliceStable(docs, func(i, j int) bool {
		for _, k := range keys {
			cmp := compareValues(docs[i][k.Key], docs[j][k.Key])
			if cmp == 0 {
				continue
			}
			dir := toInt64(k.Value)
			if dir < 0 {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
}
