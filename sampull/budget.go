package sampull

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// BudgetTracker answers "may I make one more call?" for a tenant's daily SAM
// API budget: a Redis INCR+EXPIRE counter is the fast path (grounded on
// queue/redis/queue.go's client construction), with a Postgres Usage row
// raised to the Redis count after every call and used as the counter when
// Redis returns an error. Whenever Redis answers, the allow decision uses
// the Redis count alone, so a Redis flush restarts the day's count from zero.
type BudgetTracker struct {
	redis *redis.Client
	db    *gorm.DB
}

func NewBudgetTracker(redisClient *redis.Client, db *gorm.DB) *BudgetTracker {
	return &BudgetTracker{redis: redisClient, db: db}
}

func redisKey(organizationID string, day time.Time) string {
	return fmt.Sprintf("sam_budget:%s:%s", organizationID, day.Format("2006-01-02"))
}

// TryConsume increments today's counter and reports whether the call is
// within budget. It always increments so a caller can't loop past the limit
// by retrying; a rejected call still counted is a known minor over-count
// inherent to the INCR-then-check pattern.
func (b *BudgetTracker) TryConsume(ctx context.Context, organizationID string, dailyLimit int) (allowed bool, remaining int, err error) {
	day := time.Now().UTC().Truncate(24 * time.Hour)

	count, err := b.incrementRedis(ctx, organizationID, day)
	if err != nil {
		count, err = b.incrementPostgres(ctx, organizationID, day, dailyLimit)
		if err != nil {
			return false, 0, err
		}
	}

	_ = b.reconcile(ctx, organizationID, day, count, dailyLimit)

	if count > dailyLimit {
		return false, 0, nil
	}
	return true, dailyLimit - count, nil
}

func (b *BudgetTracker) incrementRedis(ctx context.Context, organizationID string, day time.Time) (int, error) {
	if b.redis == nil {
		return 0, fmt.Errorf("no redis client configured")
	}
	key := redisKey(organizationID, day)
	count, err := b.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if count == 1 {
		b.redis.Expire(ctx, key, 25*time.Hour)
	}
	return int(count), nil
}

func (b *BudgetTracker) incrementPostgres(ctx context.Context, organizationID string, day time.Time, dailyLimit int) (int, error) {
	var count int
	err := b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var u Usage
		err := tx.Where("organization_id = ? AND date = ?", organizationID, day).First(&u).Error
		if err == gorm.ErrRecordNotFound {
			u = Usage{OrganizationID: organizationID, Date: day, CallsMade: 1, DailyLimit: dailyLimit}
			count = 1
			return tx.Create(&u).Error
		}
		if err != nil {
			return err
		}
		u.CallsMade++
		count = u.CallsMade
		return tx.Save(&u).Error
	})
	return count, err
}

func (b *BudgetTracker) reconcile(ctx context.Context, organizationID string, day time.Time, count, dailyLimit int) error {
	return b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var u Usage
		err := tx.Where("organization_id = ? AND date = ?", organizationID, day).First(&u).Error
		if err == gorm.ErrRecordNotFound {
			return tx.Create(&Usage{OrganizationID: organizationID, Date: day, CallsMade: count, DailyLimit: dailyLimit}).Error
		}
		if err != nil {
			return err
		}
		if count > u.CallsMade {
			return tx.Model(&u).Update("calls_made", count).Error
		}
		return nil
	})
}
