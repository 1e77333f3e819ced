package storage

import (
	"context"
	"coursechat/backend/internal/models"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const (
	enrollmentCachePrefix = "enrollment:"

	// enrollmentQueryTimeout bounds a shared lookup, which runs detached from
	// the context of whichever caller started it.
	enrollmentQueryTimeout = 10 * time.Second
)

// IsEnrolledInCourse reports whether userID has any enrollment in courseID.
func (s *Service) IsEnrolledInCourse(ctx context.Context, userID, courseID string) (bool, error) {
	return s.cachedEnrollment(ctx, "course", userID, courseID, func(ctx context.Context) (bool, error) {
		var count int64
		err := s.DB.WithContext(ctx).Model(&models.Enrollment{}).
			Where("user_id = ? AND course_id = ?", userID, courseID).
			Count(&count).Error
		return count > 0, err
	})
}

// IsEnrolledInCohort reports whether userID is enrolled in cohortID.
func (s *Service) IsEnrolledInCohort(ctx context.Context, userID, cohortID string) (bool, error) {
	return s.cachedEnrollment(ctx, "cohort", userID, cohortID, func(ctx context.Context) (bool, error) {
		var count int64
		err := s.DB.WithContext(ctx).Model(&models.Enrollment{}).
			Where("user_id = ? AND cohort_id = ?", userID, cohortID).
			Count(&count).Error
		return count > 0, err
	})
}

// InvalidateEnrollment drops the cached answer for one (user, room) pair so
// that an unenrollment takes effect on the next join instead of after the TTL.
// It is a no-op without Redis.
func (s *Service) InvalidateEnrollment(ctx context.Context, userID string, kind models.RoomKind, scopeID string) error {
	if s.Redis == nil {
		return nil
	}
	scope := "course"
	if kind == models.RoomKindCohort {
		scope = "cohort"
	}
	key := enrollmentCacheKey(scope, userID, scopeID)
	if err := s.Redis.Del(ctx, key).Err(); err != nil {
		s.logger.Error("failed to invalidate enrollment", "key", key, "error", err)
		return wrap("invalidate enrollment", err)
	}
	s.logger.Info("enrollment cache entry dropped", "key", key)
	return nil
}

func enrollmentCacheKey(scope, userID, scopeID string) string {
	return fmt.Sprintf("%s%s:%s:%s", enrollmentCachePrefix, scope, userID, scopeID)
}

func (s *Service) cacheEnabled() bool {
	return s.Redis != nil && s.enrollmentTTL > 0
}

// cachedEnrollment is a cache-aside lookup. Only positive answers are cached,
// so a fresh enrollment is visible on the next join attempt; concurrent
// misses for the same key share one database query. A caller whose ctx ends
// stops waiting, but the shared query keeps running for the others.
func (s *Service) cachedEnrollment(ctx context.Context, scope, userID, scopeID string, query func(context.Context) (bool, error)) (bool, error) {
	key := enrollmentCacheKey(scope, userID, scopeID)

	if s.cacheEnabled() {
		_, err := s.Redis.Get(ctx, key).Result()
		switch {
		case err == nil:
			return true, nil
		case !errors.Is(err, redis.Nil):
			s.logger.Warn("enrollment cache read failed", "key", key, "error", err)
		}
	}

	ch := s.sf.DoChan(key, func() (any, error) {
		qctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), enrollmentQueryTimeout)
		defer cancel()
		return query(qctx)
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return false, wrap("check enrollment", ctx.Err())
	}
	if res.Err != nil {
		s.logger.Error("failed to check enrollment", "scope", scope, "user_id", userID, "scope_id", scopeID, "error", res.Err)
		return false, wrap("check enrollment", res.Err)
	}

	enrolled := res.Val.(bool)
	if enrolled && s.cacheEnabled() {
		if err := s.Redis.Set(ctx, key, "1", s.enrollmentTTL).Err(); err != nil {
			s.logger.Warn("enrollment cache write failed", "key", key, "error", err)
		}
	}
	return enrolled, nil
}
