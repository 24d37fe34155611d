package db

import (
	"context"
	"time"

	"gorm.io/gorm"

	"ttlkv/internal/cache"
)

var _ cache.Persistence = (*EntryRepo)(nil)

// EntryRepo stores cache entries in the cache_entries table.
type EntryRepo struct {
	db *gorm.DB
}

func NewEntryRepo(db *gorm.DB) *EntryRepo {
	return &EntryRepo{db: db}
}

func toEntry(row Entry) cache.Entry {
	return cache.Entry{
		Key:       row.Key,
		Value:     row.Value,
		ExpiresAt: time.UnixMilli(row.ExpiresAt),
	}
}

// FindByKey uses a non-erroring Find so a miss does not log "record not found".
func (r *EntryRepo) FindByKey(ctx context.Context, key string) (*cache.Entry, error) {
	var row Entry
	tx := r.db.WithContext(ctx).Where("cache_key = ?", key).Order("id").Limit(1).Find(&row)
	if tx.Error != nil {
		return nil, tx.Error
	}
	if tx.RowsAffected == 0 {
		return nil, nil
	}
	e := toEntry(row)
	return &e, nil
}

func (r *EntryRepo) FindAll(ctx context.Context) ([]cache.Entry, error) {
	var rows []Entry
	if err := r.db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]cache.Entry, 0, len(rows))
	for _, row := range rows {
		out = append(out, toEntry(row))
	}
	return out, nil
}

func (r *EntryRepo) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&Entry{}).Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}

func (r *EntryRepo) Insert(ctx context.Context, e cache.Entry) error {
	row := Entry{
		Key:       e.Key,
		Value:     e.Value,
		ExpiresAt: e.ExpiresAt.UnixMilli(),
	}
	return r.db.WithContext(ctx).Create(&row).Error
}

func (r *EntryRepo) UpdateByKey(ctx context.Context, key, value string, expiresAt time.Time) error {
	return r.db.WithContext(ctx).Model(&Entry{}).
		Where("cache_key = ?", key).
		Updates(map[string]any{
			"value":      value,
			"expires_at": expiresAt.UnixMilli(),
		}).Error
}

func (r *EntryRepo) DeleteByKey(ctx context.Context, key string) error {
	return r.db.WithContext(ctx).Where("cache_key = ?", key).Delete(&Entry{}).Error
}

func (r *EntryRepo) DeleteAll(ctx context.Context) error {
	return r.db.WithContext(ctx).
		Session(&gorm.Session{AllowGlobalUpdate: true}).
		Delete(&Entry{}).Error
}

// FindMaxExpiry returns the entry furthest from expiring; ties go to the
// oldest row.
func (r *EntryRepo) FindMaxExpiry(ctx context.Context) (*cache.Entry, error) {
	var row Entry
	tx := r.db.WithContext(ctx).Order("expires_at DESC").Order("id").Limit(1).Find(&row)
	if tx.Error != nil {
		return nil, tx.Error
	}
	if tx.RowsAffected == 0 {
		return nil, nil
	}
	e := toEntry(row)
	return &e, nil
}
