package persist

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopherwallet.com/pkg/logger"
	"gopherwallet.com/pkg/wal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNoBlob 从没写过
var ErrNoBlob = errors.New("persist: no blob")

// BlobStore 只存一份最新的密文，写入必须是原子的：读到的要么是旧的要么是新的
type BlobStore interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, blob []byte) error
	Close() error
}

// ---------------------------------------------------------
// WAL：每次写追加一条记录，最后一条完整的记录生效
// ---------------------------------------------------------

const walFile = "wallet.wal"

type WALStore struct {
	mu           sync.Mutex
	path         string
	w            *wal.Writer
	appended     int
	compactEvery int
}

// OpenWALStore 打开时截掉崩溃留下的半条记录。compactEvery<=0 不压缩。
func OpenWALStore(dir string, compactEvery int) (*WALStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, walFile)
	st, err := wal.Replay(path, wal.ReplayOptions{AllowTruncatedTail: true}, func([]byte) error { return nil })
	if err != nil {
		// 中间坏了：保留前面校验通过的部分
		logger.Warn(context.Background(), "wal corrupt, truncating to last good record",
			zap.String("path", path), zap.Int64("offset", st.LastGoodOffset), zap.Error(err))
	}
	if err != nil || st.TruncatedTail {
		if err := wal.TruncateTo(path, st.LastGoodOffset); err != nil {
			return nil, fmt.Errorf("persist: truncate wal: %w", err)
		}
	}
	w, err := wal.OpenWrite(path, 0)
	if err != nil {
		return nil, err
	}
	return &WALStore{path: path, w: w, appended: st.Records, compactEvery: compactEvery}, nil
}

func (s *WALStore) Read(_ context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var last []byte
	_, err := wal.Replay(s.path, wal.ReplayOptions{AllowTruncatedTail: true}, func(p []byte) error {
		last = p
		return nil
	})
	if last == nil {
		if err != nil {
			return nil, err
		}
		return nil, ErrNoBlob
	}
	return last, nil
}

func (s *WALStore) Write(_ context.Context, blob []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.w.Append(blob); err != nil {
		return err
	}
	if err := s.w.Flush(); err != nil {
		return err
	}
	s.appended++
	if s.compactEvery > 0 && s.appended > s.compactEvery {
		return s.compact(blob)
	}
	return nil
}

// compact 只留最新一条
func (s *WALStore) compact(latest []byte) error {
	if err := s.w.Close(); err != nil {
		return err
	}
	if err := wal.Rewrite(s.path, latest); err != nil {
		// 原文件还在，重新打开继续追加
		w, oerr := wal.OpenWrite(s.path, 0)
		if oerr != nil {
			return errors.Join(err, oerr)
		}
		s.w = w
		return err
	}
	w, err := wal.OpenWrite(s.path, 0)
	if err != nil {
		return err
	}
	s.w = w
	s.appended = 1
	return nil
}

func (s *WALStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Close()
}

// ---------------------------------------------------------
// GORM：单行 upsert
// ---------------------------------------------------------

type PersistedBlob struct {
	Name      string `gorm:"primaryKey;size:64"`
	Data      []byte `gorm:"type:longblob"`
	UpdatedAt time.Time
}

func (PersistedBlob) TableName() string { return "persisted_blobs" }

type GormStore struct {
	db   *gorm.DB
	name string
}

func NewGormStore(db *gorm.DB, name string) (*GormStore, error) {
	if name == "" {
		name = "wallet"
	}
	if err := db.AutoMigrate(&PersistedBlob{}); err != nil {
		return nil, fmt.Errorf("persist: migrate: %w", err)
	}
	return &GormStore{db: db, name: name}, nil
}

func (s *GormStore) Read(ctx context.Context) ([]byte, error) {
	var row PersistedBlob
	err := s.db.WithContext(ctx).Where("name = ?", s.name).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoBlob
	}
	if err != nil {
		return nil, err
	}
	return row.Data, nil
}

func (s *GormStore) Write(ctx context.Context, blob []byte) error {
	row := PersistedBlob{Name: s.name, Data: blob, UpdatedAt: time.Now()}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"data", "updated_at"}),
	}).Create(&row).Error
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
