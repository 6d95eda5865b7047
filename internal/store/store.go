// Package store archives finished matches to postgres. Live session state
// never touches the database; the in-memory session loop stays authoritative.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/hopdot/hopdot-server/internal/session"
)

type Match struct {
	ID         uint   `gorm:"primaryKey"`
	SessionID  string `gorm:"uniqueIndex;size:64"`
	Width      uint8
	Height     uint8
	Seed       int64
	Winner     string `gorm:"size:64"` // empty on a draw
	Scores     string // player id -> score, JSON
	FinishedAt time.Time
}

type Store struct {
	db  *gorm.DB
	log *zap.Logger
}

func Open(dsn string, log *zap.Logger) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.AutoMigrate(&Match{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db, log: log}, nil
}

// SaveMatch implements session.Archiver. Replays of an already-archived
// session id are ignored so a retried finish stays idempotent.
func (s *Store) SaveMatch(ctx context.Context, rec session.MatchRecord) error {
	scores, err := json.Marshal(rec.Scores)
	if err != nil {
		return fmt.Errorf("encode scores: %w", err)
	}
	m := Match{
		SessionID:  rec.SessionID,
		Width:      rec.Layout.Width,
		Height:     rec.Layout.Height,
		Seed:       rec.Seed,
		Winner:     rec.Winner,
		Scores:     string(scores),
		FinishedAt: rec.FinishedAt,
	}
	res := s.db.WithContext(ctx).
		Where(Match{SessionID: rec.SessionID}).
		FirstOrCreate(&m)
	if res.Error != nil {
		return fmt.Errorf("save match: %w", res.Error)
	}
	s.log.Info("match archived", zap.String("session", rec.SessionID), zap.String("winner", rec.Winner))
	return nil
}
