package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tkrehbiel/activitycore/server/activity"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Storage persists entities by id.
type Storage interface {
	Store(ctx context.Context, obj activity.Object) error
	// Load returns nil without an error when the entity is not stored.
	Load(ctx context.Context, id string) (activity.Object, error)
	Query(ctx context.Context, typ string, filter Filter, limit int) ([]activity.Object, error)
}

// Filter narrows a query. Empty fields match anything.
type Filter struct {
	Actor        string // the acting actor of an activity
	Object       string // the object of an activity
	AttributedTo string
}

// entity is the gorm model for a stored entity
type entity struct {
	ID           uint
	CreatedAt    time.Time
	UpdatedAt    time.Time
	EntityID     string `gorm:"uniqueIndex"`
	Type         string `gorm:"index"`
	ActorID      string `gorm:"index"`
	ObjectID     string `gorm:"index"`
	AttributedTo string `gorm:"index"`
	Published    time.Time
	JSON         string
}

func newEntity(obj activity.Object) (*entity, error) {
	base := obj.Base()
	if base.ID == "" {
		return nil, fmt.Errorf("cannot store %s without an id", obj.Type())
	}
	b, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", base.ID, err)
	}
	row := &entity{
		EntityID:  base.ID,
		Type:      obj.Type(),
		Published: base.Timestamp(),
		JSON:      string(b),
	}
	if act, ok := obj.(activity.Activity); ok {
		row.ActorID = act.ActivityFields().Actor.Link()
		row.ObjectID = act.ActivityFields().Object.Link()
	}
	if len(base.AttributedTo) > 0 {
		row.AttributedTo = base.AttributedTo[0].Link()
	}
	if row.Published.IsZero() {
		row.Published = time.Now().UTC()
	}
	return row, nil
}

// Store inserts obj or replaces the stored entity with the same id.
func (s *sqliteDatabase) Store(ctx context.Context, obj activity.Object) error {
	if err := s.opened(); err != nil {
		return err
	}
	row, err := newEntity(obj)
	if err != nil {
		return err
	}
	tx := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "entity_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"updated_at", "type", "actor_id", "object_id", "attributed_to", "published", "json"}),
	}).Create(row)
	if tx.Error != nil {
		return fmt.Errorf("error storing %s: %w", row.EntityID, tx.Error)
	}
	return nil
}

func (s *sqliteDatabase) Load(ctx context.Context, id string) (activity.Object, error) {
	if err := s.opened(); err != nil {
		return nil, err
	}
	var row entity
	tx := s.db.WithContext(ctx).Where(&entity{EntityID: id}).First(&row)
	if errors.Is(tx.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	} else if tx.Error != nil {
		return nil, fmt.Errorf("error finding %s: %w", id, tx.Error)
	}
	return row.decode()
}

// Query returns entities of the given type, newest first.
func (s *sqliteDatabase) Query(ctx context.Context, typ string, filter Filter, limit int) ([]activity.Object, error) {
	if err := s.opened(); err != nil {
		return nil, err
	}
	tx := s.db.WithContext(ctx).Order("published desc")
	if typ != "" {
		tx = tx.Where("type = ?", typ)
	}
	if filter.Actor != "" {
		tx = tx.Where("actor_id = ?", filter.Actor)
	}
	if filter.Object != "" {
		tx = tx.Where("object_id = ?", filter.Object)
	}
	if filter.AttributedTo != "" {
		tx = tx.Where("attributed_to = ?", filter.AttributedTo)
	}
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	var rows []entity
	if err := tx.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("error querying %s: %w", typ, err)
	}
	objects := make([]activity.Object, 0, len(rows))
	for _, row := range rows {
		obj, err := row.decode()
		if err != nil {
			return nil, err
		}
		objects = append(objects, obj)
	}
	return objects, nil
}

func (e entity) decode() (activity.Object, error) {
	obj, err := activity.Decode([]byte(e.JSON))
	if err != nil {
		return nil, fmt.Errorf("stored entity %s: %w", e.EntityID, err)
	}
	obj.Base().LastUpdated = e.UpdatedAt
	return obj, nil
}
