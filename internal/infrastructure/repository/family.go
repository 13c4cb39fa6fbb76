package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/zeebo/xxh3"
	"go.opentelemetry.io/otel"
	"gorm.io/gorm"

	"github.com/famkit/famsync"
	"github.com/famkit/famsync/internal/infrastructure/database/models"
	"github.com/famkit/famsync/internal/service"
)

var tracer = otel.Tracer("repository")

const snapshotTTL = 600 // seconds

// FamilyRepository implements the mediator's storage contract on postgres,
// with redis pub/sub as the change stream and memcached snapshots on the read
// path.
type FamilyRepository struct {
	db     *gorm.DB
	rdb    *redis.Client
	mc     *memcache.Client
	signal *service.SignalService

	mu         sync.Mutex
	registered string
}

func NewFamilyRepository(db *gorm.DB, rdb *redis.Client, mc *memcache.Client, signal *service.SignalService) *FamilyRepository {
	return &FamilyRepository{db: db, rdb: rdb, mc: mc, signal: signal}
}

// Register records the key of interest for change-stream filtering. No result
// is produced.
func (r *FamilyRepository) Register(key string) {
	r.mu.Lock()
	r.registered = key
	r.mu.Unlock()
}

func (r *FamilyRepository) registeredKey() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.registered
}

// NewKey derives a backend key for a fresh family.
func NewKey(displayName string) string {
	sum := xxh3.HashString(fmt.Sprintf("%s:%d", displayName, time.Now().UnixNano()))
	return fmt.Sprintf("fam-%016x", sum)
}

func (r *FamilyRepository) Create(ctx context.Context, info famsync.FamilyInfo) (string, error) {
	ctx, span := tracer.Start(ctx, "Repository.CreateFamily")
	defer span.End()

	key := NewKey(info.DisplayName)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		family := models.Family{Key: key, DisplayName: info.DisplayName}
		if err := tx.Create(&family).Error; err != nil {
			return errors.Wrap(err, "insert family")
		}
		for id, m := range info.Members {
			member := models.FamilyMember{FamilyKey: key, UserID: id, Role: string(m.Role)}
			if err := tx.Create(&member).Error; err != nil {
				return errors.Wrap(err, "insert member")
			}
		}
		for id, cp := range info.Carpools {
			carpool := models.FamilyCarpool{FamilyKey: key, CarpoolID: id, Participant: cp.Participant}
			if err := tx.Create(&carpool).Error; err != nil {
				return errors.Wrap(err, "insert carpool")
			}
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return "", famsync.StorageError{Kind: famsync.ErrorKindCreationFailed, Cause: err}
	}

	r.announce(ctx, key, &famsync.FamilyState{Key: key, Value: info.Clone()})
	return key, nil
}

func (r *FamilyRepository) Update(ctx context.Context, key string, patch map[string]any) error {
	ctx, span := tracer.Start(ctx, "Repository.UpdateFamily")
	defer span.End()

	delta, err := decodePatch(patch)
	if err != nil {
		span.RecordError(err)
		return err
	}

	var current models.Family
	err = r.db.WithContext(ctx).Preload("Members").Preload("Carpools").First(&current, "key = ?", key).Error
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return famsync.StorageError{Kind: famsync.ErrorKindNotFound, Cause: err}
		}
		return errors.Wrap(err, "load family")
	}

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if delta.displayName != nil {
			err := tx.Model(&models.Family{}).Where("key = ?", key).
				Update("display_name", *delta.displayName).Error
			if err != nil {
				return errors.Wrap(err, "update display name")
			}
		}
		if delta.hasMembers {
			if err := tx.Where("family_key = ?", key).Delete(&models.FamilyMember{}).Error; err != nil {
				return errors.Wrap(err, "clear members")
			}
			for id, m := range delta.members {
				member := models.FamilyMember{FamilyKey: key, UserID: id, Role: string(m.Role)}
				if err := tx.Create(&member).Error; err != nil {
					return errors.Wrap(err, "insert member")
				}
			}
		}
		if delta.hasCarpools {
			if err := tx.Where("family_key = ?", key).Delete(&models.FamilyCarpool{}).Error; err != nil {
				return errors.Wrap(err, "clear carpools")
			}
			for id, cp := range delta.carpools {
				carpool := models.FamilyCarpool{FamilyKey: key, CarpoolID: id, Participant: cp.Participant}
				if err := tx.Create(&carpool).Error; err != nil {
					return errors.Wrap(err, "insert carpool")
				}
			}
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return err
	}

	r.announce(ctx, key, &famsync.FamilyState{Key: key, Value: delta.applyTo(stateInfo(current))})
	return nil
}

func (r *FamilyRepository) Delete(ctx context.Context, key string) error {
	ctx, span := tracer.Start(ctx, "Repository.DeleteFamily")
	defer span.End()

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("family_key = ?", key).Delete(&models.FamilyMember{}).Error; err != nil {
			return errors.Wrap(err, "delete members")
		}
		if err := tx.Where("family_key = ?", key).Delete(&models.FamilyCarpool{}).Error; err != nil {
			return errors.Wrap(err, "delete carpools")
		}
		result := tx.Delete(&models.Family{Key: key})
		if result.Error != nil {
			return errors.Wrap(result.Error, "delete family")
		}
		if result.RowsAffected == 0 {
			return famsync.StorageError{Kind: famsync.ErrorKindNotFound}
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, famsync.ErrNotFound) {
			return err
		}
		return famsync.StorageError{Kind: famsync.ErrorKindDeletionFailed, Cause: err}
	}

	r.announce(ctx, key, nil)
	return nil
}

// ChangeListener subscribes to the family change channel. Events for keys
// other than the registered one are skipped; while no key is registered every
// event passes through, so a create acknowledgment racing its first event does
// not lose it.
func (r *FamilyRepository) ChangeListener(ctx context.Context) (<-chan famsync.ChangeEvent, error) {
	pubsub := r.rdb.PSubscribe(ctx, service.ChannelPrefix+"*")
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, errors.Wrap(err, "subscribe to change channel")
	}

	ch := make(chan famsync.ChangeEvent, 64)
	go func() {
		defer close(ch)
		defer pubsub.Close()

		messages := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var env service.Envelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					ch <- famsync.ChangeEvent{Err: famsync.StorageError{Kind: famsync.ErrorKindDecoding, Cause: err}}
					continue
				}
				if registered := r.registeredKey(); registered != "" && env.Key != registered {
					continue
				}
				ch <- famsync.ChangeEvent{Key: env.Key, State: env.State}
			}
		}
	}()

	return ch, nil
}

// Get is the read path for the HTTP surface, memcached first.
func (r *FamilyRepository) Get(ctx context.Context, key string) (*famsync.FamilyState, error) {
	ctx, span := tracer.Start(ctx, "Repository.GetFamily")
	defer span.End()

	if item, err := r.mc.Get(cacheKey(key)); err == nil {
		var state famsync.FamilyState
		if err := json.Unmarshal(item.Value, &state); err == nil {
			return &state, nil
		}
		// corrupt snapshot, fall through to the database
	}

	var family models.Family
	err := r.db.WithContext(ctx).Preload("Members").Preload("Carpools").First(&family, "key = ?", key).Error
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, famsync.StorageError{Kind: famsync.ErrorKindNotFound, Cause: err}
		}
		return nil, errors.Wrap(err, "load family")
	}

	state := &famsync.FamilyState{Key: family.Key, Value: stateInfo(family)}
	r.cacheSnapshot(key, state)
	return state, nil
}

func (r *FamilyRepository) announce(ctx context.Context, key string, state *famsync.FamilyState) {
	if err := r.signal.Publish(ctx, key, state); err != nil {
		slog.ErrorContext(
			ctx, "Failed to publish change event",
			slog.String("key", key),
			slog.String("error", err.Error()),
			slog.String("module", "repository"),
		)
	}

	if state == nil {
		if err := r.mc.Delete(cacheKey(key)); err != nil && err != memcache.ErrCacheMiss {
			slog.DebugContext(
				ctx, "Failed to drop snapshot",
				slog.String("key", key),
				slog.String("module", "repository"),
			)
		}
		return
	}
	r.cacheSnapshot(key, state)
}

func (r *FamilyRepository) cacheSnapshot(key string, state *famsync.FamilyState) {
	b, err := json.Marshal(state)
	if err != nil {
		return
	}
	r.mc.Set(&memcache.Item{Key: cacheKey(key), Value: b, Expiration: snapshotTTL})
}

func cacheKey(key string) string {
	return "famsync:snapshot:" + key
}

func stateInfo(family models.Family) famsync.FamilyInfo {
	info := famsync.FamilyInfo{DisplayName: family.DisplayName}
	if len(family.Members) > 0 {
		info.Members = make(map[string]famsync.MemberRecord, len(family.Members))
		for _, m := range family.Members {
			info.Members[m.UserID] = famsync.MemberRecord{Role: famsync.Role(m.Role)}
		}
	}
	if len(family.Carpools) > 0 {
		info.Carpools = make(map[string]famsync.CarpoolRecord, len(family.Carpools))
		for _, cp := range family.Carpools {
			info.Carpools[cp.CarpoolID] = famsync.CarpoolRecord{Participant: cp.Participant}
		}
	}
	return info
}
