package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"magnetar/internal/model"
	"magnetar/pkg/idgen"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore keeps documents in the records table. Update reads the row with
// SELECT ... FOR UPDATE inside a transaction, so concurrent merges on one
// path never lose fields. Change notifications are fanned out in process;
// writes from other processes are not observed by subscribers.
type GormStore struct {
	db   *gorm.DB
	keys func() string

	// mu orders each write with its notification
	mu  sync.Mutex
	hub *hub
}

func NewGormStore(db *gorm.DB, opts ...Option) *GormStore {
	o := options{keys: idgen.PushKey}
	for _, opt := range opts {
		opt(&o)
	}
	return &GormStore{db: db, keys: o.keys, hub: newHub()}
}

func (s *GormStore) Get(ctx context.Context, path string) (Snapshot, error) {
	p, err := CleanPath(path)
	if err != nil {
		return Snapshot{}, err
	}
	b, err := s.read(s.db.WithContext(ctx), p, false)
	if err != nil {
		return Snapshot{}, err
	}
	return NewSnapshot(p, b), nil
}

func (s *GormStore) Set(ctx context.Context, path string, value interface{}) error {
	if value == nil {
		return s.Delete(ctx, path)
	}
	p, err := CleanPath(path)
	if err != nil {
		return err
	}
	b, err := encode(value)
	if err != nil {
		return err
	}
	if isNull(b) {
		return s.Delete(ctx, p)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.upsert(s.db.WithContext(ctx), p, b); err != nil {
		return err
	}
	s.hub.publish(p, NewSnapshot(p, b))
	return nil
}

func (s *GormStore) Update(ctx context.Context, path string, fields map[string]interface{}) error {
	p, err := CleanPath(path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var merged []byte
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cur, err := s.read(tx, p, true)
		if err != nil {
			return err
		}
		merged, err = merge(cur, fields)
		if err != nil {
			return err
		}
		return s.upsert(tx, p, merged)
	})
	if err != nil {
		return err
	}
	s.hub.publish(p, NewSnapshot(p, merged))
	return nil
}

func (s *GormStore) Delete(ctx context.Context, path string) error {
	p, err := CleanPath(path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	res := s.db.WithContext(ctx).Where("path = ?", p).Delete(&model.Record{})
	if res.Error != nil {
		return fmt.Errorf("delete record %s: %w", p, res.Error)
	}
	if res.RowsAffected > 0 {
		s.hub.publish(p, NewSnapshot(p, nil))
	}
	return nil
}

func (s *GormStore) Push(ctx context.Context, collection string) (string, error) {
	c, err := CleanPath(collection)
	if err != nil {
		return "", err
	}
	return Join(c, s.keys()), nil
}

func (s *GormStore) Children(ctx context.Context, collection string) ([]Snapshot, error) {
	c, err := CleanPath(collection)
	if err != nil {
		return nil, err
	}
	var records []*model.Record
	err = s.db.WithContext(ctx).
		Where("parent = ?", c).
		Order("record_key ASC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("list records %s: %w", c, err)
	}

	out := make([]Snapshot, 0, len(records))
	for _, r := range records {
		out = append(out, NewSnapshot(r.Path, []byte(r.Value)))
	}
	return out, nil
}

func (s *GormStore) Subscribe(ctx context.Context, path string, fn func(Snapshot)) (Unsubscribe, error) {
	p, err := CleanPath(path)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := s.read(s.db.WithContext(ctx), p, false)
	if err != nil {
		return nil, err
	}
	return s.hub.add(p, NewSnapshot(p, b), fn), nil
}

// Close stops every subscription. The *gorm.DB belongs to the caller.
func (s *GormStore) Close() error {
	s.hub.closeAll()
	return nil
}

func (s *GormStore) read(db *gorm.DB, p string, forUpdate bool) ([]byte, error) {
	if forUpdate {
		db = db.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var r model.Record
	err := db.Where("path = ?", p).First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read record %s: %w", p, err)
	}
	return []byte(r.Value), nil
}

func (s *GormStore) upsert(db *gorm.DB, p string, b []byte) error {
	parent, key := split(p)
	r := &model.Record{Path: p, Parent: parent, Key: key, Value: string(b)}
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "path"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(r).Error
	if err != nil {
		return fmt.Errorf("write record %s: %w", p, err)
	}
	return nil
}
