package memory

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/shutterfeed/backend/internal/storage"
)

type row struct {
	seq int64
	doc bson.M
}

// FindDocuments supports equality and $in filters on top-level fields.
func (s *Store) FindDocuments(ctx context.Context, collection string, filter bson.M, opts storage.FindOptions) ([]bson.M, error) {
	const op = "storage/memory/FindDocuments"

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	rows, err := s.collect(collection)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].seq < rows[j].seq })

	matched := rows[:0]
	for _, r := range rows {
		ok, err := matches(r.doc, filter)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if ok {
			matched = append(matched, r)
		}
	}

	if len(opts.Sort) > 0 {
		sort.SliceStable(matched, func(i, j int) bool {
			for _, sf := range opts.Sort {
				c := compareValues(matched[i].doc[sf.Field], matched[j].doc[sf.Field])
				if c == 0 {
					continue
				}
				if sf.Order == storage.Descending {
					return c > 0
				}
				return c < 0
			}
			// ties follow the direction of the leading sort field
			if opts.Sort[0].Order == storage.Descending {
				return matched[i].seq > matched[j].seq
			}
			return matched[i].seq < matched[j].seq
		})
	}

	out := make([]bson.M, 0, len(matched))
	for _, r := range matched {
		out = append(out, project(r.doc, opts.Fields))
	}
	return out, nil
}

func (s *Store) collect(collection string) ([]row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rows []row
	add := func(id primitive.ObjectID, v interface{}) error {
		doc, err := toDocument(v)
		if err != nil {
			return err
		}
		rows = append(rows, row{seq: s.order[id], doc: doc})
		return nil
	}

	switch collection {
	case storage.CollectionUsers:
		for id, u := range s.users {
			if err := add(id, u); err != nil {
				return nil, err
			}
		}
	case storage.CollectionPosts:
		for id, p := range s.posts {
			if err := add(id, p); err != nil {
				return nil, err
			}
		}
	case storage.CollectionComments:
		for id, c := range s.comments {
			if err := add(id, c); err != nil {
				return nil, err
			}
		}
	case storage.CollectionUploads:
		for id, up := range s.uploads {
			if err := add(id, up); err != nil {
				return nil, err
			}
		}
	default:
		return nil, fmt.Errorf("unknown collection %q", collection)
	}
	return rows, nil
}

// toDocument round-trips v through BSON so callers see the same shapes the mongo driver returns.
func toDocument(v interface{}) (bson.M, error) {
	raw, err := bson.Marshal(v)
	if err != nil {
		return nil, err
	}
	var doc bson.M
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func matches(doc bson.M, filter bson.M) (bool, error) {
	for field, cond := range filter {
		val := doc[field]

		if ops, ok := cond.(bson.M); ok {
			for operator, arg := range ops {
				switch operator {
				case "$in":
					if !containsValue(arg, val) {
						return false, nil
					}
				default:
					return false, fmt.Errorf("unsupported operator %s", operator)
				}
			}
			continue
		}

		if !equalValues(val, cond) {
			return false, nil
		}
	}
	return true, nil
}

func containsValue(list interface{}, val interface{}) bool {
	rv := reflect.ValueOf(list)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return false
	}
	for i := 0; i < rv.Len(); i++ {
		if equalValues(val, rv.Index(i).Interface()) {
			return true
		}
	}
	return false
}

func equalValues(a, b interface{}) bool {
	if ta, ok := asTime(a); ok {
		if tb, ok := asTime(b); ok {
			return ta.Equal(tb)
		}
	}
	return reflect.DeepEqual(a, b)
}

// compareValues orders missing values first, like MongoDB does for null.
func compareValues(a, b interface{}) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}

	if ta, ok := asTime(a); ok {
		if tb, ok := asTime(b); ok {
			return ta.Compare(tb)
		}
	}

	switch av := a.(type) {
	case string:
		if bv, ok := b.(string); ok {
			return strings.Compare(av, bv)
		}
	case primitive.ObjectID:
		if bv, ok := b.(primitive.ObjectID); ok {
			return strings.Compare(av.Hex(), bv.Hex())
		}
	case int32:
		if bv, ok := b.(int32); ok {
			return compareInt(int64(av), int64(bv))
		}
	case int64:
		if bv, ok := b.(int64); ok {
			return compareInt(av, bv)
		}
	}
	return 0
}

func compareInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func asTime(v interface{}) (time.Time, bool) {
	switch t := v.(type) {
	case primitive.DateTime:
		return t.Time(), true
	case time.Time:
		return t, true
	}
	return time.Time{}, false
}

func project(doc bson.M, fields []string) bson.M {
	if len(fields) == 0 {
		return doc
	}
	out := bson.M{"_id": doc["_id"]}
	for _, f := range fields {
		if v, ok := doc[f]; ok {
			out[f] = v
		}
	}
	return out
}
