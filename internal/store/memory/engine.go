package memory

import (
	"bytes"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"tradeq/internal/domain"
)

func match(docs []domain.Document, arg any) ([]domain.Document, error) {
	filter, ok := asD(arg)
	if !ok {
		return nil, fmt.Errorf("$match requires a document")
	}
	out := docs[:0]
	for _, d := range docs {
		ok, err := matches(d, filter)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, d)
		}
	}
	return out, nil
}

func matches(d domain.Document, filter bson.D) (bool, error) {
	for _, e := range filter {
		switch e.Key {
		case "$and", "$or":
			clauses, ok := asA(e.Value)
			if !ok || len(clauses) == 0 {
				return false, fmt.Errorf("%s requires a non-empty array", e.Key)
			}
			someMatch, allMatch := false, true
			for _, c := range clauses {
				cf, ok := asD(c)
				if !ok {
					return false, fmt.Errorf("%s clauses must be documents", e.Key)
				}
				m, err := matches(d, cf)
				if err != nil {
					return false, err
				}
				someMatch = someMatch || m
				allMatch = allMatch && m
			}
			if (e.Key == "$and" && !allMatch) || (e.Key == "$or" && !someMatch) {
				return false, nil
			}
		default:
			if strings.HasPrefix(e.Key, "$") {
				return false, fmt.Errorf("unsupported query operator %s", e.Key)
			}
			ok, err := fieldMatches(resolve(d, e.Key), e.Value)
			if err != nil || !ok {
				return false, err
			}
		}
	}
	return true, nil
}

func fieldMatches(values []any, cond any) (bool, error) {
	if re, isRegex := cond.(primitive.Regex); isRegex {
		return regexMatches(values, re.Pattern, re.Options)
	}
	ops, isOps := asD(cond)
	if !isOps || len(ops) == 0 || !strings.HasPrefix(ops[0].Key, "$") {
		return anyEqual(values, []any{cond}), nil
	}
	for _, op := range ops {
		var ok bool
		switch op.Key {
		case "$eq":
			ok = anyEqual(values, []any{op.Value})
		case "$ne":
			ok = !anyEqual(values, []any{op.Value})
		case "$in", "$nin":
			list, isList := asA(op.Value)
			if !isList {
				return false, fmt.Errorf("%s requires an array", op.Key)
			}
			ok = anyEqual(values, list)
			if op.Key == "$nin" {
				ok = !ok
			}
		case "$gt", "$gte", "$lt", "$lte":
			for _, v := range values {
				c, comparable := compare(v, op.Value)
				if !comparable {
					continue
				}
				if (op.Key == "$gt" && c > 0) || (op.Key == "$gte" && c >= 0) ||
					(op.Key == "$lt" && c < 0) || (op.Key == "$lte" && c <= 0) {
					ok = true
					break
				}
			}
		case "$exists":
			want, _ := op.Value.(bool)
			ok = (len(values) > 0) == want
		case "$regex":
			var err error
			switch p := op.Value.(type) {
			case primitive.Regex:
				ok, err = regexMatches(values, p.Pattern, p.Options)
			case string:
				options, _ := get(ops, "$options").(string)
				ok, err = regexMatches(values, p, options)
			default:
				return false, fmt.Errorf("$regex requires a string pattern")
			}
			if err != nil {
				return false, err
			}
		case "$options":
			if _, hasRegex := lookupKey(ops, "$regex"); !hasRegex {
				return false, fmt.Errorf("$options requires $regex")
			}
			continue
		default:
			return false, fmt.Errorf("unsupported query operator %s", op.Key)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// regexMatches reports whether any string value matches pattern. Options
// i, m and s map onto RE2 flags; other options are rejected.
func regexMatches(values []any, pattern, options string) (bool, error) {
	flags := ""
	for _, o := range options {
		switch o {
		case 'i', 'm', 's':
			flags += string(o)
		default:
			return false, fmt.Errorf("unsupported $regex option %q", o)
		}
	}
	if flags != "" {
		pattern = "(?" + flags + ")" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false, fmt.Errorf("$regex: %w", err)
	}
	for _, v := range values {
		if s, isString := v.(string); isString && re.MatchString(s) {
			return true, nil
		}
	}
	return false, nil
}

func unwind(docs []domain.Document, arg any) ([]domain.Document, error) {
	path, preserve := "", false
	switch a := arg.(type) {
	case string:
		path = a
	default:
		spec, ok := asD(arg)
		if !ok {
			return nil, fmt.Errorf("$unwind requires a path")
		}
		path, _ = get(spec, "path").(string)
		preserve, _ = get(spec, "preserveNullAndEmptyArrays").(bool)
	}
	if !strings.HasPrefix(path, "$") {
		return nil, fmt.Errorf("$unwind path must start with $")
	}
	path = path[1:]
	var out []domain.Document
	for _, d := range docs {
		v, found := getField(d, path)
		arr, isArr := asA(v)
		switch {
		case isArr && len(arr) > 0:
			for _, el := range arr {
				cp := cloneDoc(d)
				setField(cp, path, cloneValue(el))
				out = append(out, cp)
			}
		case isArr || !found || v == nil:
			if preserve {
				out = append(out, d)
			}
		default:
			out = append(out, d)
		}
	}
	return out, nil
}

func group(docs []domain.Document, arg any) ([]domain.Document, error) {
	spec, ok := asD(arg)
	if !ok {
		return nil, fmt.Errorf("$group requires a document")
	}
	idExpr, hasID := lookupKey(spec, "_id")
	if !hasID {
		return nil, fmt.Errorf("$group requires an _id")
	}
	type bucket struct {
		id     any
		values map[string][]any
	}
	var keys []string
	buckets := map[string]*bucket{}
	for _, d := range docs {
		id := eval(d, idExpr)
		key := fmt.Sprintf("%#v", plain(id))
		b, ok := buckets[key]
		if !ok {
			b = &bucket{id: id, values: map[string][]any{}}
			buckets[key] = b
			keys = append(keys, key)
		}
		for _, acc := range spec {
			if acc.Key == "_id" {
				continue
			}
			accSpec, ok := asD(acc.Value)
			if !ok || len(accSpec) != 1 {
				return nil, fmt.Errorf("accumulator %s must have exactly one operator", acc.Key)
			}
			b.values[acc.Key] = append(b.values[acc.Key], eval(d, accSpec[0].Value))
		}
	}
	out := make([]domain.Document, 0, len(keys))
	for _, key := range keys {
		b := buckets[key]
		doc := domain.Document{"_id": b.id}
		for _, acc := range spec {
			if acc.Key == "_id" {
				continue
			}
			accSpec, _ := asD(acc.Value)
			v, err := accumulate(accSpec[0].Key, b.values[acc.Key])
			if err != nil {
				return nil, fmt.Errorf("accumulator %s: %w", acc.Key, err)
			}
			doc[acc.Key] = v
		}
		out = append(out, doc)
	}
	return out, nil
}

func accumulate(op string, values []any) (any, error) {
	switch op {
	case "$sum", "$avg":
		var sum float64
		ints := true
		n := 0
		for _, v := range values {
			f, ok := toFloat(v)
			if !ok {
				continue
			}
			if !isInt(v) {
				ints = false
			}
			sum += f
			n++
		}
		if op == "$avg" {
			if n == 0 {
				return nil, nil
			}
			return sum / float64(n), nil
		}
		if ints {
			return int64(sum), nil
		}
		return sum, nil
	case "$min", "$max":
		var best any
		for _, v := range values {
			if v == nil {
				continue
			}
			if best == nil {
				best = v
				continue
			}
			c, ok := compare(v, best)
			if ok && ((op == "$min" && c < 0) || (op == "$max" && c > 0)) {
				best = v
			}
		}
		return best, nil
	case "$first":
		if len(values) == 0 {
			return nil, nil
		}
		return values[0], nil
	case "$push":
		return append([]any{}, values...), nil
	default:
		return nil, fmt.Errorf("unsupported accumulator %s", op)
	}
}

func sortDocs(docs []domain.Document, arg any) ([]domain.Document, error) {
	spec, ok := asD(arg)
	if !ok || len(spec) == 0 {
		return nil, fmt.Errorf("$sort requires a non-empty document")
	}
	dirs := make([]int, len(spec))
	for i, e := range spec {
		n, ok := toInt(e.Value)
		if !ok || (n != 1 && n != -1) {
			return nil, fmt.Errorf("$sort direction for %s must be 1 or -1", e.Key)
		}
		dirs[i] = n
	}
	sort.SliceStable(docs, func(i, j int) bool {
		for k, e := range spec {
			a, _ := getField(docs[i], e.Key)
			b, _ := getField(docs[j], e.Key)
			c := order(a, b)
			if c != 0 {
				return c*dirs[k] < 0
			}
		}
		return false
	})
	return docs, nil
}

func project(docs []domain.Document, arg any) ([]domain.Document, error) {
	spec, ok := asD(arg)
	if !ok || len(spec) == 0 {
		return nil, fmt.Errorf("$project requires a non-empty document")
	}
	inclusion := false
	keepID := true
	for _, e := range spec {
		if e.Key == "_id" {
			if on, isFlag := flag(e.Value); isFlag && !on {
				keepID = false
			}
			continue
		}
		if on, isFlag := flag(e.Value); !isFlag || on {
			inclusion = true
		}
	}
	out := make([]domain.Document, 0, len(docs))
	for _, d := range docs {
		var nd domain.Document
		if inclusion {
			nd = domain.Document{}
			if v, ok := d["_id"]; ok && keepID {
				nd["_id"] = v
			}
			for _, e := range spec {
				if e.Key == "_id" {
					continue
				}
				if on, isFlag := flag(e.Value); isFlag {
					if v, found := getField(d, e.Key); on && found {
						setField(nd, e.Key, v)
					}
					continue
				}
				setField(nd, e.Key, eval(d, e.Value))
			}
		} else {
			nd = d
			for _, e := range spec {
				if e.Key == "_id" && keepID {
					continue
				}
				deleteField(nd, e.Key)
			}
		}
		out = append(out, nd)
	}
	return out, nil
}

// eval resolves "$path" references, compound documents and literals.
func eval(d domain.Document, expr any) any {
	if s, ok := expr.(string); ok && strings.HasPrefix(s, "$") {
		v, _ := getField(d, s[1:])
		return v
	}
	if spec, ok := asD(expr); ok {
		m := map[string]any{}
		for _, e := range spec {
			m[e.Key] = eval(d, e.Value)
		}
		return m
	}
	return expr
}

func flag(v any) (on bool, isFlag bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	}
	if n, ok := toInt(v); ok {
		return n != 0, true
	}
	return false, false
}

// resolve returns every value reached by a dotted path, descending into arrays.
func resolve(v any, path string) []any {
	head, rest, nested := strings.Cut(path, ".")
	if arr, ok := asA(v); ok {
		var out []any
		for _, el := range arr {
			out = append(out, resolve(el, path)...)
		}
		return out
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	child, found := m[head]
	if !found {
		return nil
	}
	if !nested {
		if arr, ok := asA(child); ok {
			return append([]any{child}, arr...)
		}
		return []any{child}
	}
	return resolve(child, rest)
}

// getField follows a dotted path through documents only.
func getField(d map[string]any, path string) (any, bool) {
	var cur any = d
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func setField(d map[string]any, path string, v any) {
	parts := strings.Split(path, ".")
	cur := d
	for _, p := range parts[:len(parts)-1] {
		next, ok := cur[p].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[p] = next
		}
		cur = next
	}
	cur[parts[len(parts)-1]] = v
}

func deleteField(d map[string]any, path string) {
	parts := strings.Split(path, ".")
	cur := d
	for _, p := range parts[:len(parts)-1] {
		next, ok := cur[p].(map[string]any)
		if !ok {
			return
		}
		cur = next
	}
	delete(cur, parts[len(parts)-1])
}

func anyEqual(values, targets []any) bool {
	for _, v := range values {
		for _, t := range targets {
			if equal(v, t) {
				return true
			}
		}
	}
	return false
}

func equal(a, b any) bool {
	if c, ok := compare(a, b); ok {
		return c == 0
	}
	return reflect.DeepEqual(plain(a), plain(b))
}

// compare orders two scalars of compatible kinds.
func compare(a, b any) (int, bool) {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			switch {
			case fa < fb:
				return -1, true
			case fa > fb:
				return 1, true
			}
			return 0, true
		}
		return 0, false
	}
	switch x := a.(type) {
	case string:
		if y, ok := b.(string); ok {
			return strings.Compare(x, y), true
		}
	case primitive.ObjectID:
		if y, ok := b.(primitive.ObjectID); ok {
			return bytes.Compare(x[:], y[:]), true
		}
	case time.Time:
		if y, ok := b.(time.Time); ok {
			return x.Compare(y), true
		}
	case primitive.DateTime:
		return compare(x.Time(), b)
	case bool:
		if y, ok := b.(bool); ok {
			switch {
			case x == y:
				return 0, true
			case !x:
				return -1, true
			}
			return 1, true
		}
	}
	if y, ok := b.(primitive.DateTime); ok {
		return compare(a, y.Time())
	}
	return 0, false
}

// order is a total order for sorting: missing and null first, then comparable values.
func order(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	if c, ok := compare(a, b); ok {
		return c
	}
	return strings.Compare(fmt.Sprintf("%T", a), fmt.Sprintf("%T", b))
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

func isInt(v any) bool {
	switch v.(type) {
	case int, int32, int64:
		return true
	}
	return false
}

func toInt(v any) (int, bool) {
	f, ok := toFloat(v)
	if !ok || f != float64(int(f)) {
		return 0, false
	}
	return int(f), true
}

func asD(v any) (bson.D, bool) {
	switch t := v.(type) {
	case bson.D:
		return t, true
	case bson.M:
		return mapToD(t), true
	case map[string]any:
		return mapToD(t), true
	}
	return nil, false
}

func mapToD(m map[string]any) bson.D {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	d := make(bson.D, 0, len(m))
	for _, k := range keys {
		d = append(d, bson.E{Key: k, Value: m[k]})
	}
	return d
}

func asA(v any) ([]any, bool) {
	switch t := v.(type) {
	case bson.A:
		return t, true
	case []any:
		return t, true
	}
	return nil, false
}

func get(d bson.D, key string) any {
	v, _ := lookupKey(d, key)
	return v
}

func lookupKey(d bson.D, key string) (any, bool) {
	for _, e := range d {
		if e.Key == key {
			return e.Value, true
		}
	}
	return nil, false
}

// plain converts bson containers into map[string]any and []any recursively.
func plain(v any) any {
	switch t := v.(type) {
	case bson.D:
		m := make(map[string]any, len(t))
		for _, e := range t {
			m[e.Key] = plain(e.Value)
		}
		return m
	case bson.M:
		m := make(map[string]any, len(t))
		for k, x := range t {
			m[k] = plain(x)
		}
		return m
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, x := range t {
			m[k] = plain(x)
		}
		return m
	case bson.A:
		out := make([]any, len(t))
		for i, x := range t {
			out[i] = plain(x)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, x := range t {
			out[i] = plain(x)
		}
		return out
	case primitive.DateTime:
		return t.Time().UTC()
	}
	return v
}

func cloneDoc(d domain.Document) domain.Document {
	return cloneValue(d).(map[string]any)
}

func cloneValue(v any) any { return plain(v) }
