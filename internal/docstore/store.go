// Package docstore provides the document full-text lookup used to refine
// citation offsets, backed by GORM with an optional Redis read-through cache.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/BaSui01/groundrag/internal/cache"
	"github.com/BaSui01/groundrag/internal/database"
	"github.com/BaSui01/groundrag/types"
)

const (
	cacheKeyPrefix = "doc:text:"
	cacheType      = "document"

	defaultTxRetries = 3
)

// TextCache 文本缓存，*cache.Manager 满足该接口
type TextCache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// Recorder 指标回调，*metrics.Collector 满足该接口
type Recorder interface {
	RecordCacheHit(cacheType string)
	RecordCacheMiss(cacheType string)
	RecordDBQuery(database, operation string, duration time.Duration)
}

// Transactor 带重试的事务执行器，*database.PoolManager 满足该接口
type Transactor interface {
	WithTransactionRetry(ctx context.Context, maxRetries int, fn database.TransactionFunc) error
}

// Store 文档存储。实现 grounding.DocumentTextSource。
type Store struct {
	db        *gorm.DB
	cache     TextCache
	cacheTTL  time.Duration
	tx        Transactor
	txRetries int
	recorder  Recorder
	logger    *zap.Logger
}

// Option 存储选项
type Option func(*Store)

// WithCache enables the read-through text cache.
func WithCache(c TextCache, ttl time.Duration) Option {
	return func(s *Store) {
		s.cache = c
		s.cacheTTL = ttl
	}
}

// WithTransactor runs writes through t, retrying transient failures
// (lock contention, dropped connections) up to maxRetries attempts.
func WithTransactor(t Transactor, maxRetries int) Option {
	return func(s *Store) {
		if maxRetries <= 0 {
			maxRetries = defaultTxRetries
		}
		s.tx = t
		s.txRetries = maxRetries
	}
}

// WithRecorder reports cache and query metrics.
func WithRecorder(r Recorder) Option {
	return func(s *Store) {
		s.recorder = r
	}
}

// New creates a store over db.
func New(db *gorm.DB, logger *zap.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		db:     db,
		logger: logger.With(zap.String("component", "docstore")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetDocumentText returns the full text of a document.
// Unknown ids return DOCUMENT_NOT_FOUND.
func (s *Store) GetDocumentText(ctx context.Context, documentID string) (string, error) {
	if strings.TrimSpace(documentID) == "" {
		return "", types.NewInvalidRequestError("document_id is required")
	}

	if s.cache != nil {
		text, err := s.cache.Get(ctx, cacheKeyPrefix+documentID)
		switch {
		case err == nil:
			s.recordCache(true)
			return text, nil
		case cache.IsCacheMiss(err):
			s.recordCache(false)
		default:
			s.logger.Warn("document cache read failed", zap.String("document_id", documentID), zap.Error(err))
		}
	}

	doc, err := s.Get(ctx, documentID)
	if err != nil {
		return "", err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, cacheKeyPrefix+documentID, doc.Text, s.cacheTTL); err != nil {
			s.logger.Warn("document cache write failed", zap.String("document_id", documentID), zap.Error(err))
		}
	}
	return doc.Text, nil
}

// Get loads a document by id.
func (s *Store) Get(ctx context.Context, documentID string) (*Document, error) {
	start := time.Now()
	var doc Document
	err := s.db.WithContext(ctx).Where("id = ?", documentID).Take(&doc).Error
	s.recordQuery("get_document", start)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.NewDocumentNotFoundError(documentID)
	}
	if err != nil {
		return nil, fmt.Errorf("load document %s: %w", documentID, err)
	}
	return &doc, nil
}

// Upsert inserts or replaces documents and invalidates their cached text.
func (s *Store) Upsert(ctx context.Context, docs ...Document) error {
	if len(docs) == 0 {
		return nil
	}
	for _, d := range docs {
		if strings.TrimSpace(d.ID) == "" {
			return types.NewInvalidRequestError("document id is required")
		}
	}

	start := time.Now()
	err := s.transaction(ctx, func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"title", "text", "updated_at"}),
		}).Create(&docs).Error
	})
	s.recordQuery("upsert_documents", start)
	if err != nil {
		return fmt.Errorf("upsert documents: %w", err)
	}

	s.invalidate(ctx, ids(docs)...)
	return nil
}

// Delete removes a document. Returns false when it did not exist.
func (s *Store) Delete(ctx context.Context, documentID string) (bool, error) {
	start := time.Now()
	var affected int64
	err := s.transaction(ctx, func(tx *gorm.DB) error {
		res := tx.Where("id = ?", documentID).Delete(&Document{})
		affected = res.RowsAffected
		return res.Error
	})
	s.recordQuery("delete_document", start)
	if err != nil {
		return false, fmt.Errorf("delete document %s: %w", documentID, err)
	}
	s.invalidate(ctx, documentID)
	return affected > 0, nil
}

// Count returns the number of stored documents.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&Document{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return n, nil
}

// transaction 有 Transactor 时走带重试的事务，否则直接在 db 上开事务
func (s *Store) transaction(ctx context.Context, fn database.TransactionFunc) error {
	if s.tx != nil {
		return s.tx.WithTransactionRetry(ctx, s.txRetries, fn)
	}
	return s.db.WithContext(ctx).Transaction(fn)
}

func (s *Store) invalidate(ctx context.Context, documentIDs ...string) {
	if s.cache == nil || len(documentIDs) == 0 {
		return
	}
	keys := make([]string, len(documentIDs))
	for i, id := range documentIDs {
		keys[i] = cacheKeyPrefix + id
	}
	if err := s.cache.Delete(ctx, keys...); err != nil {
		s.logger.Warn("document cache invalidation failed", zap.Strings("keys", keys), zap.Error(err))
	}
}

func (s *Store) recordCache(hit bool) {
	if s.recorder == nil {
		return
	}
	if hit {
		s.recorder.RecordCacheHit(cacheType)
	} else {
		s.recorder.RecordCacheMiss(cacheType)
	}
}

func (s *Store) recordQuery(operation string, start time.Time) {
	if s.recorder != nil {
		s.recorder.RecordDBQuery(s.db.Dialector.Name(), operation, time.Since(start))
	}
}

func ids(docs []Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.ID
	}
	return out
}
