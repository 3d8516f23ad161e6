package services

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/sync/errgroup"

	"github.com/shutterfeed/backend/internal/storage"
)

// Population describes one relation to resolve: the field holding the
// reference(s), an optional projection of the target, an optional order for
// array relations, and nested populations applied to the targets.
type Population struct {
	Path     string
	Select   []string
	Sort     []storage.SortField
	Populate []Population
}

// relations maps collection -> reference field -> target collection.
var relations = map[string]map[string]string{
	storage.CollectionUsers: {
		"posts":    storage.CollectionPosts,
		"comments": storage.CollectionComments,
	},
	storage.CollectionPosts: {
		"owner":    storage.CollectionUsers,
		"image":    storage.CollectionUploads,
		"comments": storage.CollectionComments,
	},
	storage.CollectionComments: {
		"owner": storage.CollectionUsers,
		"post":  storage.CollectionPosts,
	},
	storage.CollectionUploads: {
		"owner": storage.CollectionUsers,
	},
}

// hiddenFields never leave the store through a resolved document.
var hiddenFields = map[string][]string{
	storage.CollectionUsers: {"password", "reset_token", "reset_token_expires_at", "identities"},
}

// Resolver replaces reference ids with their target documents. It only reads:
// one batched query per relation per level, siblings fetched concurrently.
// References that no longer resolve become nil.
type Resolver struct {
	docs storage.Documents
}

func NewResolver(docs storage.Documents) *Resolver {
	return &Resolver{docs: docs}
}

// Resolve returns copies of roots with every population applied. roots are not modified.
func (r *Resolver) Resolve(ctx context.Context, collection string, roots []bson.M, pops []Population) ([]bson.M, error) {
	out := make([]bson.M, len(roots))
	for i, doc := range roots {
		out[i] = sanitizeDoc(collection, doc)
	}
	if len(out) == 0 || len(pops) == 0 {
		return out, nil
	}

	targetCollections := make([]string, len(pops))
	for i, pop := range pops {
		target, ok := relations[collection][pop.Path]
		if !ok {
			return nil, fmt.Errorf("resolve: %s has no relation %q", collection, pop.Path)
		}
		targetCollections[i] = target
	}

	targets := make([][]bson.M, len(pops))
	g, gctx := errgroup.WithContext(ctx)
	for i, pop := range pops {
		i, pop := i, pop
		ids := collectIDs(out, pop.Path)
		g.Go(func() error {
			docs, err := r.fetch(gctx, targetCollections[i], ids, pop)
			if err != nil {
				return err
			}
			targets[i] = docs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i, pop := range pops {
		assign(out, pop, targets[i])
	}
	return out, nil
}

func (r *Resolver) fetch(ctx context.Context, collection string, ids []primitive.ObjectID, pop Population) ([]bson.M, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	fields := pop.Select
	if len(fields) > 0 {
		// Nested paths must survive the projection.
		fields = append([]string(nil), fields...)
		for _, nested := range pop.Populate {
			fields = appendUnique(fields, nested.Path)
		}
	}

	docs, err := r.docs.FindDocuments(ctx, collection, bson.M{"_id": bson.M{"$in": ids}}, storage.FindOptions{
		Sort:   pop.Sort,
		Fields: fields,
	})
	if err != nil {
		return nil, storeErr("services.Resolver.fetch "+pop.Path, err)
	}
	if len(pop.Populate) == 0 {
		for i, doc := range docs {
			docs[i] = sanitizeDoc(collection, doc)
		}
		return docs, nil
	}
	return r.Resolve(ctx, collection, docs, pop.Populate)
}

func assign(docs []bson.M, pop Population, targets []bson.M) {
	byID := make(map[primitive.ObjectID]bson.M, len(targets))
	rank := make(map[primitive.ObjectID]int, len(targets))
	for i, t := range targets {
		if id, ok := t["_id"].(primitive.ObjectID); ok {
			byID[id] = t
			rank[id] = i
		}
	}

	for _, doc := range docs {
		raw, present := doc[pop.Path]
		if !present {
			continue
		}

		if id, ok := raw.(primitive.ObjectID); ok {
			if t, found := byID[id]; found {
				doc[pop.Path] = t
			} else {
				doc[pop.Path] = nil
			}
			continue
		}

		ids := toIDs(raw)
		if ids == nil {
			doc[pop.Path] = nil
			continue
		}
		if len(pop.Sort) > 0 {
			ids = orderByRank(ids, rank)
		}
		resolved := make([]interface{}, 0, len(ids))
		for _, id := range ids {
			if t, found := byID[id]; found {
				resolved = append(resolved, t)
			} else {
				resolved = append(resolved, nil)
			}
		}
		doc[pop.Path] = resolved
	}
}

// orderByRank orders ids by their position in the sorted fetch; unresolved ids go last.
func orderByRank(ids []primitive.ObjectID, rank map[primitive.ObjectID]int) []primitive.ObjectID {
	found := make([]primitive.ObjectID, 0, len(ids))
	var missing []primitive.ObjectID
	for _, id := range ids {
		if _, ok := rank[id]; ok {
			found = append(found, id)
		} else {
			missing = append(missing, id)
		}
	}
	// insertion sort keeps duplicates and the original order of equal ranks
	for i := 1; i < len(found); i++ {
		for j := i; j > 0 && rank[found[j]] < rank[found[j-1]]; j-- {
			found[j], found[j-1] = found[j-1], found[j]
		}
	}
	return append(found, missing...)
}

func collectIDs(docs []bson.M, path string) []primitive.ObjectID {
	seen := make(map[primitive.ObjectID]struct{})
	var ids []primitive.ObjectID
	add := func(id primitive.ObjectID) {
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	for _, doc := range docs {
		raw := doc[path]
		if id, ok := raw.(primitive.ObjectID); ok {
			add(id)
			continue
		}
		for _, id := range toIDs(raw) {
			add(id)
		}
	}
	return ids
}

func toIDs(raw interface{}) []primitive.ObjectID {
	switch v := raw.(type) {
	case []primitive.ObjectID:
		return v
	case primitive.A:
		return idsFromSlice(v)
	case []interface{}:
		return idsFromSlice(v)
	}
	return nil
}

func idsFromSlice(items []interface{}) []primitive.ObjectID {
	ids := make([]primitive.ObjectID, 0, len(items))
	for _, item := range items {
		if id, ok := item.(primitive.ObjectID); ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// sanitizeDoc copies doc, drops hidden fields and turns nested driver types
// into plain maps and slices.
func sanitizeDoc(collection string, doc bson.M) bson.M {
	out := make(bson.M, len(doc))
	for k, v := range doc {
		out[k] = normalize(v)
	}
	for _, f := range hiddenFields[collection] {
		delete(out, f)
	}
	return out
}

func normalize(v interface{}) interface{} {
	switch t := v.(type) {
	case bson.M:
		m := make(bson.M, len(t))
		for k, val := range t {
			m[k] = normalize(val)
		}
		return m
	case bson.D:
		m := make(bson.M, len(t))
		for _, e := range t {
			m[e.Key] = normalize(e.Value)
		}
		return m
	case primitive.A:
		s := make([]interface{}, len(t))
		for i, val := range t {
			s[i] = normalize(val)
		}
		return s
	case primitive.DateTime:
		return t.Time().UTC()
	}
	return v
}

func appendUnique(fields []string, f string) []string {
	for _, existing := range fields {
		if existing == f {
			return fields
		}
	}
	return append(fields, f)
}
