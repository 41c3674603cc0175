package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/makerere-aits/aits-api/internal/models"
	appErrors "github.com/makerere-aits/aits-api/pkg/errors"
	"github.com/makerere-aits/aits-api/pkg/jobs"
	"github.com/makerere-aits/aits-api/pkg/mailer"
)

type notificationRepository interface {
	FindByID(ctx context.Context, id string) (*models.Notification, error)
	ListForUser(ctx context.Context, filter models.NotificationFilter) ([]models.Notification, int, error)
	MarkRead(ctx context.Context, id string) error
	MarkAllRead(ctx context.Context, userID string) error
	UnreadCount(ctx context.Context, userID string) (int, error)
}

type notificationCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type emailJob struct {
	To      string
	ToName  string
	Subject string
	Body    string
}

// NotificationService delivers in-app notifications and drives the
// best-effort email channel through a background queue. Email failures are
// logged and dropped, never retried and never surfaced to API callers.
type NotificationService struct {
	repo    notificationRepository
	cache   notificationCache
	mail    mailer.Mailer
	queue   *jobs.Queue
	metrics *MetricsService
	logger  *zap.Logger

	unreadTTL time.Duration
}

// NewNotificationService constructs the dispatcher. The mail queue must be
// started with Start before emails flow.
func NewNotificationService(repo notificationRepository, cache notificationCache, mail mailer.Mailer, logger *zap.Logger, unreadTTL time.Duration, queueBuffer int) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if unreadTTL <= 0 {
		unreadTTL = 5 * time.Minute
	}
	s := &NotificationService{
		repo:      repo,
		cache:     cache,
		mail:      mail,
		logger:    logger,
		unreadTTL: unreadTTL,
	}
	s.queue = jobs.NewQueue("notification-emails", s.handleEmailJob, jobs.QueueConfig{
		Workers:    2,
		BufferSize: queueBuffer,
		MaxRetries: 0,
		Logger:     logger,
	})
	return s
}

// WithMetrics attaches the metrics service so dispatch counts and cache
// hit ratios are recorded.
func (s *NotificationService) WithMetrics(m *MetricsService) *NotificationService {
	s.metrics = m
	return s
}

// Start launches the email workers.
func (s *NotificationService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the email workers.
func (s *NotificationService) Stop() {
	s.queue.Stop()
}

// NotificationsStored reacts to notifications committed elsewhere: unread
// badges are refreshed and the dispatch is counted, one per recipient.
func (s *NotificationService) NotificationsStored(ctx context.Context, userIDs ...string) {
	s.InvalidateUnreadCounts(ctx, userIDs...)
	if s.metrics != nil {
		for range userIDs {
			s.metrics.RecordNotification("in_app")
		}
	}
}

// ListForUser returns the principal's notifications, newest first.
func (s *NotificationService) ListForUser(ctx context.Context, principal *models.JWTClaims, filter models.NotificationFilter) ([]models.Notification, *models.Pagination, error) {
	filter.UserID = principal.UserID
	notifications, total, err := s.repo.ListForUser(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list notifications")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return notifications, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// MarkRead flips one notification to read. Only the recipient may do so, and
// marking an already-read notification is a no-op.
func (s *NotificationService) MarkRead(ctx context.Context, principal *models.JWTClaims, id string) error {
	n, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "notification not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load notification")
	}
	if n.UserID != principal.UserID {
		return appErrors.ErrForbidden
	}
	if n.IsRead {
		return nil
	}
	if err := s.repo.MarkRead(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark notification read")
	}
	s.InvalidateUnreadCounts(ctx, principal.UserID)
	return nil
}

// MarkAllRead flips every unread notification belonging to the principal.
func (s *NotificationService) MarkAllRead(ctx context.Context, principal *models.JWTClaims) error {
	if err := s.repo.MarkAllRead(ctx, principal.UserID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark notifications read")
	}
	s.InvalidateUnreadCounts(ctx, principal.UserID)
	return nil
}

// UnreadCount returns the principal's unread badge, served from cache when
// fresh.
func (s *NotificationService) UnreadCount(ctx context.Context, principal *models.JWTClaims) (int, error) {
	key := unreadCountKey(principal.UserID)

	var cached int
	if s.cache != nil {
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			if s.metrics != nil {
				s.metrics.RecordCacheOperation(true)
			}
			return cached, nil
		}
		if s.metrics != nil {
			s.metrics.RecordCacheOperation(false)
		}
	}

	count, err := s.repo.UnreadCount(ctx, principal.UserID)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count notifications")
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, key, count, s.unreadTTL); err != nil {
			s.logger.Warn("failed to cache unread count", zap.String("user_id", principal.UserID), zap.Error(err))
		}
	}
	return count, nil
}

// InvalidateUnreadCounts drops cached unread badges after notification writes.
func (s *NotificationService) InvalidateUnreadCounts(ctx context.Context, userIDs ...string) {
	if s.cache == nil {
		return
	}
	for _, id := range userIDs {
		if err := s.cache.Delete(ctx, unreadCountKey(id)); err != nil {
			s.logger.Warn("failed to invalidate unread count", zap.String("user_id", id), zap.Error(err))
		}
	}
}

// EnqueueEmail schedules one best-effort email. Delivery problems never
// propagate back to the caller.
func (s *NotificationService) EnqueueEmail(to, toName, subject, body string) {
	if s.mail == nil || to == "" {
		return
	}
	err := s.queue.Enqueue(jobs.Job{
		ID:      uuid.NewString(),
		Type:    "email",
		Payload: emailJob{To: to, ToName: toName, Subject: subject, Body: body},
	})
	if err != nil {
		s.logger.Error("failed to enqueue email", zap.String("to", to), zap.Error(err))
	}
}

func (s *NotificationService) handleEmailJob(ctx context.Context, job jobs.Job) error {
	payload, ok := job.Payload.(emailJob)
	if !ok {
		return fmt.Errorf("unexpected payload type %T", job.Payload)
	}
	if err := s.mail.Send(ctx, mailer.Message{
		To:      payload.To,
		ToName:  payload.ToName,
		Subject: payload.Subject,
		Body:    payload.Body,
	}); err != nil {
		return appErrors.Wrap(err, appErrors.ErrDelivery.Code, appErrors.ErrDelivery.Status, "email delivery failed")
	}
	if s.metrics != nil {
		s.metrics.RecordNotification("email")
	}
	return nil
}

func unreadCountKey(userID string) string {
	return "notifications:unread:" + userID
}
