package service

import (
	"context"
	"fmt"
	"time"

	"magnetar/internal/config"
	"magnetar/internal/infrastructure/lock"
	"magnetar/internal/model"
	"magnetar/internal/repository"
	"magnetar/internal/store"

	"github.com/sirupsen/logrus"
)

const day = 24 * time.Hour

// QuotaService tracks the persona chat token budget of each user. A budget
// refills to the default once refillDays whole days have passed since the
// last refill.
type QuotaService struct {
	quotas        *repository.QuotaRepository
	locker        lock.Locker
	log           logrus.FieldLogger
	defaultTokens int64
	refillDays    int64
	opts          options
}

func NewQuotaService(s store.RecordStore, locker lock.Locker, cfg config.QuotaConfig, log logrus.FieldLogger, opts ...Option) *QuotaService {
	return &QuotaService{
		quotas:        repository.NewQuotaRepository(s, log),
		locker:        locker,
		log:           log,
		defaultTokens: cfg.DefaultTokens,
		refillDays:    int64(cfg.RefillIntervalDays),
		opts:          applyOptions(opts),
	}
}

// GetOrInitQuota returns the user's quota, creating the default budget on
// first access.
func (s *QuotaService) GetOrInitQuota(ctx context.Context, userID string) (*model.TokenQuota, error) {
	if err := store.CheckKey(userID); err != nil {
		return nil, err
	}
	release, err := s.locker.Acquire(ctx, lock.UserKey(userID))
	if err != nil {
		return nil, fmt.Errorf("lock quota: %w", err)
	}
	defer release()

	return s.getOrInit(ctx, userID)
}

// ConsumeTokens charges tokensUsed to the user's budget, refilling it first
// when the period is over. The refill counts tokensUsed against the new
// period. Remaining never drops below zero; Used may pass Total.
func (s *QuotaService) ConsumeTokens(ctx context.Context, userID string, tokensUsed int64) (*model.TokenQuota, error) {
	if tokensUsed < 0 {
		return nil, ErrInvalidTokens
	}
	if err := store.CheckKey(userID); err != nil {
		return nil, err
	}
	release, err := s.locker.Acquire(ctx, lock.UserKey(userID))
	if err != nil {
		return nil, fmt.Errorf("lock quota: %w", err)
	}
	defer release()

	q, err := s.getOrInit(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := s.opts.now()
	daysSinceRefill := int64(now.Sub(q.LastRefill) / day)

	var updated *model.TokenQuota
	if daysSinceRefill >= s.refillDays {
		updated = &model.TokenQuota{
			Total:      s.defaultTokens,
			Used:       tokensUsed,
			Remaining:  floor(s.defaultTokens - tokensUsed),
			LastRefill: now,
		}
		s.log.WithFields(logrus.Fields{
			"user_id":           userID,
			"days_since_refill": daysSinceRefill,
		}).Info("token quota refilled")
	} else {
		updated = &model.TokenQuota{
			Total:      q.Total,
			Used:       q.Used + tokensUsed,
			Remaining:  floor(q.Remaining - tokensUsed),
			LastRefill: q.LastRefill,
		}
	}

	if err := s.quotas.Save(ctx, userID, updated); err != nil {
		return nil, err
	}
	return updated, nil
}

// SubscribeToQuota calls fn with every snapshot of the user's quota in store
// order. A missing record is initialized and fn receives the defaults right
// away; the write of those defaults is then delivered as well.
func (s *QuotaService) SubscribeToQuota(ctx context.Context, userID string, fn func(*model.TokenQuota)) (store.Unsubscribe, error) {
	return s.quotas.Subscribe(ctx, userID, func(q *model.TokenQuota) {
		if q != nil {
			fn(q)
			return
		}
		q, err := s.GetOrInitQuota(ctx, userID)
		if err != nil {
			s.log.WithError(err).WithField("user_id", userID).Error("initialize token quota")
			return
		}
		fn(q)
	})
}

// getOrInit expects the caller to hold the user's lock.
func (s *QuotaService) getOrInit(ctx context.Context, userID string) (*model.TokenQuota, error) {
	q, err := s.quotas.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if q != nil {
		return q, nil
	}

	q = model.NewTokenQuota(s.defaultTokens, s.opts.now())
	if err := s.quotas.Save(ctx, userID, q); err != nil {
		return nil, err
	}
	s.log.WithField("user_id", userID).Debug("token quota initialized")
	return q, nil
}

func floor(n int64) int64 {
	if n < 0 {
		return 0
	}
	return n
}
