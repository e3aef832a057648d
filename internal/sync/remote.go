package syncer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/hpungsan/clipkeep/internal/vault"
)

// Envelope is one record as stored on the mirror. Payload and Blob are sealed
// with the sync key; the mirror never sees content or fingerprints.
type Envelope struct {
	ID        string `gorm:"primaryKey;size:26"`
	Payload   []byte
	Blob      []byte
	Created   int64 `gorm:"index"`
	Origin    string
	Deleted   bool  `gorm:"index"`
	DeletedAt int64 // epoch ms, 0 while live
	UpdatedAt int64 `gorm:"autoUpdateTime:milli"`
}

// TableName keeps the mirror table name stable across gorm naming strategies.
func (Envelope) TableName() string { return "mirror_records" }

type mirrorMeta struct {
	Name  string `gorm:"primaryKey;size:64"`
	Value []byte
}

func (mirrorMeta) TableName() string { return "mirror_meta" }

// Remote is the sync mirror.
type Remote interface {
	// Salt returns the key-derivation salt shared by every device, creating
	// it on first use.
	Salt(ctx context.Context) ([]byte, error)

	// Pull returns every envelope, tombstones included.
	Pull(ctx context.Context) ([]Envelope, error)

	// Push inserts or replaces one envelope.
	Push(ctx context.Context, e Envelope) error

	// Tombstone marks an envelope deleted and drops its payload.
	Tombstone(ctx context.Context, id string, at int64) error

	Close() error
}

// GormRemote is a Remote over a SQL database reachable through gorm.
type GormRemote struct {
	db *gorm.DB
}

// OpenRemote connects to dsn: "postgres://" or "postgresql://" URLs use the
// postgres driver, anything else is a sqlite file path.
func OpenRemote(dsn string) (*GormRemote, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("remote dsn is empty")
	}
	var dialector gorm.Dialector
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		dialector = postgres.Open(dsn)
	} else {
		dialector = sqlite.Open(dsn)
	}

	gdb, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("connect remote: %w", err)
	}
	if err := gdb.AutoMigrate(&Envelope{}, &mirrorMeta{}); err != nil {
		return nil, fmt.Errorf("migrate remote: %w", err)
	}
	return &GormRemote{db: gdb}, nil
}

func (r *GormRemote) Salt(ctx context.Context) ([]byte, error) {
	var meta mirrorMeta
	err := r.db.WithContext(ctx).Where("name = ?", "salt").First(&meta).Error
	if err == nil {
		return meta.Value, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	salt, err := vault.NewSalt()
	if err != nil {
		return nil, err
	}
	// Another device may race us; whoever inserted first wins.
	err = r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&mirrorMeta{Name: "salt", Value: salt}).Error
	if err != nil {
		return nil, err
	}
	if err := r.db.WithContext(ctx).Where("name = ?", "salt").First(&meta).Error; err != nil {
		return nil, err
	}
	return meta.Value, nil
}

func (r *GormRemote) Pull(ctx context.Context) ([]Envelope, error) {
	var out []Envelope
	if err := r.db.WithContext(ctx).Order("created asc, id asc").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *GormRemote) Push(ctx context.Context, e Envelope) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(&e).Error
}

func (r *GormRemote) Tombstone(ctx context.Context, id string, at int64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&Envelope{}).Where("id = ?", id).Updates(map[string]any{
			"deleted":    true,
			"deleted_at": at,
			"payload":    nil,
			"blob":       nil,
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			return nil
		}
		return tx.Create(&Envelope{ID: id, Deleted: true, DeletedAt: at}).Error
	})
}

func (r *GormRemote) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// syncKey derives the mirror encryption key shared by all devices using the
// same passphrase.
func syncKey(ctx context.Context, r Remote, passphrase string, params vault.Params) (*vault.Vault, error) {
	salt, err := r.Salt(ctx)
	if err != nil {
		return nil, fmt.Errorf("load remote salt: %w", err)
	}
	return vault.New(passphrase, salt, params)
}
