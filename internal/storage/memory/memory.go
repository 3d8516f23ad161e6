// Package memory is a process-local document store with the same contract as
// the mongo driver. Used for local runs and tests; optionally snapshots to disk.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/shutterfeed/backend/internal/models"
	"github.com/shutterfeed/backend/internal/storage"
)

const snapshotFile = "store.json"

type Store struct {
	mu       sync.RWMutex
	seq      int64
	order    map[primitive.ObjectID]int64
	users    map[primitive.ObjectID]*models.User
	posts    map[primitive.ObjectID]*models.Post
	comments map[primitive.ObjectID]*models.Comment
	uploads  map[primitive.ObjectID]*models.Upload

	persistMu sync.Mutex
	file      *storage.JSONStore
}

type snapshot struct {
	Users    []models.User    `bson:"users"`
	Posts    []models.Post    `bson:"posts"`
	Comments []models.Comment `bson:"comments"`
	Uploads  []models.Upload  `bson:"uploads"`
}

func New() *Store {
	return &Store{
		order:    make(map[primitive.ObjectID]int64),
		users:    make(map[primitive.ObjectID]*models.User),
		posts:    make(map[primitive.ObjectID]*models.Post),
		comments: make(map[primitive.ObjectID]*models.Comment),
		uploads:  make(map[primitive.ObjectID]*models.Upload),
	}
}

// NewPersistent restores the snapshot in dataDir, if any, and rewrites it after every mutation.
func NewPersistent(dataDir string) (*Store, error) {
	const op = "storage/memory/NewPersistent"

	file, err := storage.NewJSONStore(dataDir, snapshotFile)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var snap snapshot
	if err := file.Load(&snap); err != nil {
		return nil, fmt.Errorf("%s: load snapshot: %w", op, err)
	}

	s := New()
	s.file = file
	for i := range snap.Users {
		u := snap.Users[i]
		s.users[u.ID] = cloneUser(&u)
		s.track(u.ID)
	}
	for i := range snap.Posts {
		p := snap.Posts[i]
		s.posts[p.ID] = clonePost(&p)
		s.track(p.ID)
	}
	for i := range snap.Comments {
		c := snap.Comments[i]
		s.comments[c.ID] = &c
		s.track(c.ID)
	}
	for i := range snap.Uploads {
		up := snap.Uploads[i]
		s.uploads[up.ID] = &up
		s.track(up.ID)
	}
	return s, nil
}

func (s *Store) Close(ctx context.Context) error {
	return s.persist()
}

// track records insertion order; callers hold mu.
func (s *Store) track(id primitive.ObjectID) {
	s.seq++
	s.order[id] = s.seq
}

func (s *Store) persist() error {
	if s.file == nil {
		return nil
	}
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.RLock()
	snap := snapshot{
		Users:    make([]models.User, 0, len(s.users)),
		Posts:    make([]models.Post, 0, len(s.posts)),
		Comments: make([]models.Comment, 0, len(s.comments)),
		Uploads:  make([]models.Upload, 0, len(s.uploads)),
	}
	for _, u := range s.users {
		snap.Users = append(snap.Users, *cloneUser(u))
	}
	for _, p := range s.posts {
		snap.Posts = append(snap.Posts, *clonePost(p))
	}
	for _, c := range s.comments {
		snap.Comments = append(snap.Comments, *c)
	}
	for _, up := range s.uploads {
		snap.Uploads = append(snap.Uploads, *up)
	}
	order := make(map[primitive.ObjectID]int64, len(s.order))
	for k, v := range s.order {
		order[k] = v
	}
	s.mu.RUnlock()

	sort.Slice(snap.Users, func(i, j int) bool { return order[snap.Users[i].ID] < order[snap.Users[j].ID] })
	sort.Slice(snap.Posts, func(i, j int) bool { return order[snap.Posts[i].ID] < order[snap.Posts[j].ID] })
	sort.Slice(snap.Comments, func(i, j int) bool { return order[snap.Comments[i].ID] < order[snap.Comments[j].ID] })
	sort.Slice(snap.Uploads, func(i, j int) bool { return order[snap.Uploads[i].ID] < order[snap.Uploads[j].ID] })

	if err := s.file.Save(snap); err != nil {
		return fmt.Errorf("storage/memory/persist: %w", err)
	}
	return nil
}

func cloneUser(u *models.User) *models.User {
	c := *u
	c.Posts = append(make([]primitive.ObjectID, 0, len(u.Posts)), u.Posts...)
	c.Comments = append(make([]primitive.ObjectID, 0, len(u.Comments)), u.Comments...)
	c.Identities = append(make([]models.LinkedIdentity, 0, len(u.Identities)), u.Identities...)
	if u.ResetTokenExpiresAt != nil {
		t := *u.ResetTokenExpiresAt
		c.ResetTokenExpiresAt = &t
	}
	return &c
}

func clonePost(p *models.Post) *models.Post {
	c := *p
	c.Comments = append(make([]primitive.ObjectID, 0, len(p.Comments)), p.Comments...)
	if p.Image != nil {
		img := *p.Image
		c.Image = &img
	}
	return &c
}

func addToSet(ids []primitive.ObjectID, id primitive.ObjectID) []primitive.ObjectID {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}
