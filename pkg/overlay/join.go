package overlay

import (
	"fmt"
	"math"
	"strconv"
	"time"

	perrors "github.com/parcelfind/parcelfind/pkg/errors"
	"github.com/parcelfind/parcelfind/pkg/schema"
	"github.com/parcelfind/parcelfind/pkg/tabular"
)

// JoinedView is a one-to-many left join of a tabular input onto a layer.
// Every record of the target collection is present; records without a
// matching row expose nil for every joined attribute.
type JoinedView struct {
	layer   *Layer
	table   *tabular.Table
	key     string
	matches [][]tabular.Row
	matched int
}

// Join attaches table to the layer on key. Any active join is removed first,
// so joins never stack. The active selection is cleared too, since it was
// computed against the previous view.
func Join(l *Layer, t *tabular.Table, key string) (*JoinedView, error) {
	if l == nil || l.collection == nil {
		return nil, perrors.InvalidInput("join requires a target collection")
	}
	if t == nil {
		return nil, perrors.InvalidInput("join requires a tabular input")
	}

	l.ClearSelection()
	l.RemoveJoin()

	if err := schema.JoinKey(l.collection, t, key); err != nil {
		return nil, err
	}

	byKey := make(map[string][]tabular.Row, len(t.Rows))
	for _, row := range t.Rows {
		k, ok := CanonicalKey(row[key])
		if !ok {
			continue
		}
		byKey[k] = append(byKey[k], row)
	}

	v := &JoinedView{
		layer:   l,
		table:   t,
		key:     key,
		matches: make([][]tabular.Row, len(l.collection.Records)),
	}
	for i, r := range l.collection.Records {
		k, ok := CanonicalKey(r.Attributes[key])
		if !ok {
			continue
		}
		if rows := byKey[k]; len(rows) > 0 {
			v.matches[i] = rows
			v.matched++
		}
	}

	l.join = v
	return v, nil
}

// Source is the qualifier of the joined tabular attributes.
func (v *JoinedView) Source() string {
	return v.table.Name
}

// Key is the join key field name.
func (v *JoinedView) Key() string {
	return v.key
}

// Layer returns the layer the view was built on.
func (v *JoinedView) Layer() *Layer {
	return v.layer
}

// Len is the number of target records in the view.
func (v *JoinedView) Len() int {
	return len(v.matches)
}

// Matches returns the tabular rows joined to record i, in input order.
func (v *JoinedView) Matches(i int) []tabular.Row {
	if i < 0 || i >= len(v.matches) {
		return nil
	}
	return v.matches[i]
}

// MatchedRecords counts target records with at least one matching row.
func (v *JoinedView) MatchedRecords() int {
	return v.matched
}

// Value returns the value of a qualified field for record i. Joined attributes
// read from the first matching row; use Matches for the others.
func (v *JoinedView) Value(i int, f QualifiedField) any {
	if i < 0 || i >= len(v.matches) {
		return nil
	}
	switch f.Source {
	case v.layer.Name():
		return v.layer.collection.Records[i].Attributes[f.Name]
	case v.Source():
		if rows := v.matches[i]; len(rows) > 0 {
			return rows[0][f.Name]
		}
	}
	return nil
}

// Fields lists the target fields followed by the joined tabular columns,
// each qualified by its source.
func (v *JoinedView) Fields() []QualifiedField {
	target := v.layer.Name()
	fields := make([]QualifiedField, 0, len(v.layer.collection.Schema.Fields)+len(v.table.Columns))
	for _, f := range v.layer.collection.Schema.Fields {
		fields = append(fields, QualifiedField{Source: target, Name: f.Name})
	}
	for _, c := range v.table.Columns {
		fields = append(fields, QualifiedField{Source: v.Source(), Name: c})
	}
	return fields
}

func (v *JoinedView) hasField(f QualifiedField) bool {
	for _, got := range v.Fields() {
		if got == f {
			return true
		}
	}
	return false
}

// CanonicalKey renders a key value for comparison. Integral numbers print
// without a fractional part so a numeric cell matches its text form; nil and
// the empty string are null and never match.
func CanonicalKey(v any) (string, bool) {
	switch x := v.(type) {
	case nil:
		return "", false
	case string:
		if x == "" {
			return "", false
		}
		return x, true
	case int:
		return strconv.Itoa(x), true
	case int32:
		return strconv.FormatInt(int64(x), 10), true
	case int64:
		return strconv.FormatInt(x, 10), true
	case float32:
		return canonicalFloat(float64(x)), true
	case float64:
		return canonicalFloat(x), true
	case bool:
		return strconv.FormatBool(x), true
	case time.Time:
		return x.UTC().Format(time.RFC3339), true
	default:
		return fmt.Sprint(x), true
	}
}

func canonicalFloat(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1e18 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}
