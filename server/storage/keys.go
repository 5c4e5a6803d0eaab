package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// KeyStore holds one PEM encoded private key per actor.
type KeyStore interface {
	// LoadKey returns nil without an error when no key is stored.
	LoadKey(ctx context.Context, ref string) ([]byte, error)
	// CreateKey stores pem unless a key already exists, and returns whichever key is stored.
	CreateKey(ctx context.Context, ref string, pem []byte) ([]byte, error)
}

// actorKey is the gorm model for a private key
type actorKey struct {
	Ref       string `gorm:"primaryKey"`
	CreatedAt time.Time
	PEM       string
}

// KeyReference names the stored key of an actor: the actor's host and path
// joined with dots, plus ".key".
func KeyReference(actorID string) string {
	u, err := url.Parse(actorID)
	if err != nil || u.Host == "" {
		return strings.NewReplacer("/", ".", ":", ".").Replace(actorID) + ".key"
	}
	path := strings.Trim(u.Path, "/")
	if path == "" {
		return u.Host + ".key"
	}
	return u.Host + "." + strings.ReplaceAll(path, "/", ".") + ".key"
}

func (s *sqliteDatabase) LoadKey(ctx context.Context, ref string) ([]byte, error) {
	if err := s.opened(); err != nil {
		return nil, err
	}
	var key actorKey
	tx := s.db.WithContext(ctx).Where(&actorKey{Ref: ref}).First(&key)
	if errors.Is(tx.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	} else if tx.Error != nil {
		return nil, fmt.Errorf("error loading key %s: %w", ref, tx.Error)
	}
	return []byte(key.PEM), nil
}

func (s *sqliteDatabase) CreateKey(ctx context.Context, ref string, pem []byte) ([]byte, error) {
	if err := s.opened(); err != nil {
		return nil, err
	}
	tx := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).
		Create(&actorKey{Ref: ref, PEM: string(pem)})
	if tx.Error != nil {
		return nil, fmt.Errorf("error creating key %s: %w", ref, tx.Error)
	}
	return s.LoadKey(ctx, ref)
}
