package storage

import (
	"context"
	"coursechat/backend/internal/models"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

// RoomRegistry finds and creates chat rooms. Rooms are unique per (kind, scope).
type RoomRegistry interface {
	GetOrCreateRoom(ctx context.Context, kind models.RoomKind, scopeID string) (*models.ChatRoom, error)
	FindRoom(ctx context.Context, kind models.RoomKind, scopeID string) (*models.ChatRoom, error)
	GetRoomByID(ctx context.Context, roomID string) (*models.ChatRoom, error)
}

// MessageStore is the append-only message history. It is the only writer
// of ChatMessage.SentAt.
type MessageStore interface {
	Append(ctx context.Context, roomID, senderID, content string) (*models.ChatMessage, error)
	ListByRoom(ctx context.Context, roomID string) ([]models.ChatMessage, error)
}

// EnrollmentChecker answers membership questions against the external
// enrollment records.
type EnrollmentChecker interface {
	IsEnrolledInCourse(ctx context.Context, userID, courseID string) (bool, error)
	IsEnrolledInCohort(ctx context.Context, userID, cohortID string) (bool, error)
}

type Storage interface {
	RoomRegistry
	MessageStore
	EnrollmentChecker
}

// ErrRoomNotFound is returned when no room matches a lookup.
var ErrRoomNotFound = errors.New("chat room not found")

// Error wraps a failure of the persistence layer. Callers test for it with
// errors.As; the underlying driver error is available through Unwrap.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsStorageError reports whether err came from the persistence layer.
func IsStorageError(err error) bool {
	var se *Error
	return errors.As(err, &se)
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}

// Service implements Storage over gorm, with an optional Redis cache in
// front of enrollment lookups.
type Service struct {
	DB    *gorm.DB
	Redis *redis.Client

	enrollmentTTL time.Duration
	sf            singleflight.Group
	logger        *slog.Logger

	// now is the store clock; lastSentAt keeps SentAt non-decreasing per
	// room. It holds one entry per room ever written to, seeded from the
	// room's newest row on first use.
	now        func() time.Time
	clockMu    sync.Mutex
	lastSentAt map[string]time.Time
}

// compile-time check
var _ Storage = (*Service)(nil)

// Option customises a Service.
type Option func(*Service)

// WithRedis enables the enrollment cache. A nil client or a ttl <= 0 leaves
// lookups uncached; the client is still used by InvalidateEnrollment.
func WithRedis(rdb *redis.Client, ttl time.Duration) Option {
	return func(s *Service) {
		s.Redis = rdb
		s.enrollmentTTL = ttl
	}
}

// WithClock replaces the store clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewStorageService Constructor
func NewStorageService(db *gorm.DB, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		DB:         db,
		logger:     logger.With(slog.String("component", "storage")),
		now:        time.Now,
		lastSentAt: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Migrate creates the tables owned by the chat core.
func (s *Service) Migrate() error {
	return wrap("migrate", s.DB.AutoMigrate(&models.ChatRoom{}, &models.ChatMessage{}))
}
