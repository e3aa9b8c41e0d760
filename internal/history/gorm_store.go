package history

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// turnRecord is one row of the conversation_turns table
type turnRecord struct {
	ID        uint   `gorm:"primaryKey"`
	UserID    string `gorm:"index:idx_turns_user_seq,priority:1;not null"`
	Seq       int    `gorm:"index:idx_turns_user_seq,priority:2;not null"`
	Role      string `gorm:"size:16;not null"`
	Content   string `gorm:"type:text"`
	CreatedAt time.Time
}

func (turnRecord) TableName() string {
	return "conversation_turns"
}

// GormStore persists history in a SQL database through gorm
type GormStore struct {
	db       *gorm.DB
	maxTurns int
}

// NewSQLiteStore opens (and migrates) a SQLite-backed store
func NewSQLiteStore(path string, maxTurns int) (*GormStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	store, err := newGormStore(sqlite.Open(path), maxTurns)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SQLite database: %w", err)
	}
	return store, nil
}

// NewPostgresStore opens (and migrates) a PostgreSQL-backed store
func NewPostgresStore(dsn string, maxTurns int) (*GormStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}
	store, err := newGormStore(postgres.Open(dsn), maxTurns)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}
	return store, nil
}

func newGormStore(dialector gorm.Dialector, maxTurns int) (*GormStore, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&turnRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database schema: %w", err)
	}

	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	return &GormStore{db: db, maxTurns: maxTurns}, nil
}

// Load returns the stored turns for userID in sequence order
func (s *GormStore) Load(ctx context.Context, userID string) ([]Turn, error) {
	var records []turnRecord
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("seq ASC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	turns := make([]Turn, 0, len(records))
	for _, r := range records {
		turns = append(turns, Turn{Role: Role(r.Role), Content: r.Content})
	}
	return Window(turns, s.maxTurns), nil
}

// Save replaces the stored turns for userID in one transaction
func (s *GormStore) Save(ctx context.Context, userID string, turns []Turn) error {
	window := Window(turns, s.maxTurns)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", userID).Delete(&turnRecord{}).Error; err != nil {
			return err
		}
		if len(window) == 0 {
			return nil
		}

		records := make([]turnRecord, len(window))
		for i, t := range window {
			records[i] = turnRecord{
				UserID:  userID,
				Seq:     i + 1,
				Role:    string(t.Role),
				Content: t.Content,
			}
		}
		return tx.Create(&records).Error
	})
	if err != nil {
		return fmt.Errorf("failed to save history: %w", err)
	}
	return nil
}

// Append adds turns after the stored history for userID and drops the
// oldest rows beyond maxTurns in one transaction. On PostgreSQL a
// transaction-scoped advisory lock orders appends for the same user across
// processes; SQLite serializes writers itself.
func (s *GormStore) Append(ctx context.Context, userID string, turns ...Turn) error {
	if len(turns) == 0 {
		return nil
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if tx.Dialector.Name() == "postgres" {
			if err := tx.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", key(userID)).Error; err != nil {
				return err
			}
		}

		var last int
		err := tx.Model(&turnRecord{}).
			Select("COALESCE(MAX(seq), 0)").
			Where("user_id = ?", userID).
			Scan(&last).Error
		if err != nil {
			return err
		}

		records := make([]turnRecord, len(turns))
		for i, t := range turns {
			records[i] = turnRecord{
				UserID:  userID,
				Seq:     last + i + 1,
				Role:    string(t.Role),
				Content: t.Content,
			}
		}
		if err := tx.Create(&records).Error; err != nil {
			return err
		}

		if cutoff := last + len(turns) - s.maxTurns; cutoff > 0 {
			return tx.Where("user_id = ? AND seq <= ?", userID, cutoff).Delete(&turnRecord{}).Error
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to append history: %w", err)
	}
	return nil
}

// Ping checks if the database connection is alive
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the database connection
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
