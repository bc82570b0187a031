package devserver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore keeps the dev backend's data in Postgres.
type GormStore struct {
	db *gorm.DB
}

var _ Store = (*GormStore)(nil)

func OpenGormStore(dsn string) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	return NewGormStore(db)
}

func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&QueueEntry{}, &Session{}, &Like{}, &Message{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func (g *GormStore) Enqueue(ctx context.Context, e *QueueEntry) error {
	res := g.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(e)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

func (g *GormStore) QueueEntry(ctx context.Context, uid string) (*QueueEntry, error) {
	var e QueueEntry
	if err := g.db.WithContext(ctx).First(&e, "uid = ?", uid).Error; err != nil {
		return nil, notFound(err)
	}
	return &e, nil
}

func (g *GormStore) Dequeue(ctx context.Context, uid string) error {
	res := g.db.WithContext(ctx).Delete(&QueueEntry{}, "uid = ?", uid)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (g *GormStore) CreateSession(ctx context.Context, s *Session) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	return g.db.WithContext(ctx).Create(s).Error
}

func (g *GormStore) SaveSession(ctx context.Context, s *Session) error {
	res := g.db.WithContext(ctx).Model(&Session{}).Where("id = ?", s.ID).Select("*").Updates(s)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (g *GormStore) Session(ctx context.Context, id string) (*Session, error) {
	var s Session
	if err := g.db.WithContext(ctx).First(&s, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}

func (g *GormStore) ActiveSession(ctx context.Context, uid string) (*Session, error) {
	var s Session
	err := g.db.WithContext(ctx).
		Where("status = ? AND (host_uid = ? OR guest_uid = ?)", statusOpen, uid, uid).
		First(&s).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}

func (g *GormStore) OldestWaitingSession(ctx context.Context, excludeUID string) (*Session, error) {
	var s Session
	err := g.db.WithContext(ctx).
		Where("status = ? AND guest_uid IS NULL AND host_uid <> ?", statusOpen, excludeUID).
		Order("created_at").
		First(&s).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}

func (g *GormStore) SetLike(ctx context.Context, sessionID, uid string, liked bool) error {
	return g.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_id"}, {Name: "uid"}},
		DoUpdates: clause.AssignmentColumns([]string{"liked"}),
	}).Create(&Like{SessionID: sessionID, UID: uid, Liked: liked}).Error
}

func (g *GormStore) Likes(ctx context.Context, sessionID string) (map[string]bool, error) {
	var likes []Like
	if err := g.db.WithContext(ctx).Where("session_id = ?", sessionID).Find(&likes).Error; err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(likes))
	for _, l := range likes {
		out[l.UID] = l.Liked
	}
	return out, nil
}

func (g *GormStore) SaveMessage(ctx context.Context, m *Message) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return g.db.WithContext(ctx).Create(m).Error
}

func (g *GormStore) Messages(ctx context.Context, sessionID string) ([]Message, error) {
	var msgs []Message
	err := g.db.WithContext(ctx).Where("session_id = ?", sessionID).Order("created_at").Find(&msgs).Error
	return msgs, err
}
