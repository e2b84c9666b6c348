package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"registration-system/models"
	"registration-system/services"
)

// GormDirectory reads families and dependants from Postgres.
type GormDirectory struct {
	db *gorm.DB
}

var _ services.FamilyDirectory = (*GormDirectory)(nil)

func NewGormDirectory(db *gorm.DB) *GormDirectory {
	return &GormDirectory{db: db}
}

func (d *GormDirectory) GetDependant(ctx context.Context, id string) (*models.Dependant, error) {
	var dep models.Dependant
	if err := d.db.WithContext(ctx).First(&dep, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "dependant", id)
	}
	return &dep, nil
}

func (d *GormDirectory) GetFamilyHolder(ctx context.Context, familyID string) (string, error) {
	var family models.Family
	if err := d.db.WithContext(ctx).Select("id", "holder_id").First(&family, "id = ?", familyID).Error; err != nil {
		return "", notFound(err, "family", familyID)
	}
	return family.HolderID, nil
}

const (
	dependantKeyPrefix = "regsys:dependant:"
	holderKeyPrefix    = "regsys:family-holder:"

	DefaultDirectoryTTL = 5 * time.Minute
)

// CachedDirectory is a read-through Redis cache in front of another
// FamilyDirectory. Redis failures fall back to the underlying directory.
// Misses are not cached.
type CachedDirectory struct {
	next   services.FamilyDirectory
	client *redis.Client
	ttl    time.Duration
}

var _ services.FamilyDirectory = (*CachedDirectory)(nil)

// CachedDirectoryOption configures a CachedDirectory.
type CachedDirectoryOption func(*CachedDirectory)

func WithTTL(ttl time.Duration) CachedDirectoryOption {
	return func(d *CachedDirectory) {
		if ttl > 0 {
			d.ttl = ttl
		}
	}
}

func NewCachedDirectory(next services.FamilyDirectory, client *redis.Client, opts ...CachedDirectoryOption) *CachedDirectory {
	d := &CachedDirectory{next: next, client: client, ttl: DefaultDirectoryTTL}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *CachedDirectory) GetDependant(ctx context.Context, id string) (*models.Dependant, error) {
	key := dependantKeyPrefix + id
	raw, err := d.client.Get(ctx, key).Bytes()
	if err == nil {
		var dep models.Dependant
		if jsonErr := json.Unmarshal(raw, &dep); jsonErr == nil {
			return &dep, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		zap.L().Warn("⚠️ [DIRECTORY] cache read failed", zap.String("key", key), zap.Error(err))
	}

	dep, err := d.next.GetDependant(ctx, id)
	if err != nil {
		return nil, err
	}
	if payload, err := json.Marshal(dep); err == nil {
		d.store(ctx, key, payload)
	}
	return dep, nil
}

func (d *CachedDirectory) GetFamilyHolder(ctx context.Context, familyID string) (string, error) {
	key := holderKeyPrefix + familyID
	holder, err := d.client.Get(ctx, key).Result()
	if err == nil {
		return holder, nil
	}
	if !errors.Is(err, redis.Nil) {
		zap.L().Warn("⚠️ [DIRECTORY] cache read failed", zap.String("key", key), zap.Error(err))
	}

	holder, err = d.next.GetFamilyHolder(ctx, familyID)
	if err != nil {
		return "", err
	}
	d.store(ctx, key, holder)
	return holder, nil
}

// Invalidate drops cached entries for a family holder change.
func (d *CachedDirectory) Invalidate(ctx context.Context, familyID string, dependantIDs ...string) error {
	keys := []string{holderKeyPrefix + familyID}
	for _, id := range dependantIDs {
		keys = append(keys, dependantKeyPrefix+id)
	}
	if err := d.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("invalidate family %s: %w", familyID, err)
	}
	return nil
}

func (d *CachedDirectory) store(ctx context.Context, key string, value any) {
	if err := d.client.Set(ctx, key, value, d.ttl).Err(); err != nil {
		zap.L().Warn("⚠️ [DIRECTORY] cache write failed", zap.String("key", key), zap.Error(err))
	}
}
