package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/makerere-aits/aits-api/internal/models"
	appErrors "github.com/makerere-aits/aits-api/pkg/errors"
)

type issueRepository interface {
	List(ctx context.Context, filter models.IssueFilter) ([]models.IssueDetail, int, error)
	FindDetailByID(ctx context.Context, id string) (*models.IssueDetail, error)
	Create(ctx context.Context, issue *models.Issue, notifications []models.Notification) error
	Assign(ctx context.Context, issueID string, assignee *models.User, actorID string, notification *models.Notification) (*models.Issue, error)
	ChangeStatus(ctx context.Context, issueID string, newStatus models.IssueStatus, actorID string, notification *models.Notification) (*models.Issue, error)
	UpdateGrade(ctx context.Context, issueID string, grade float64, actorID string, notification *models.Notification) (*models.Issue, error)
	CreateComment(ctx context.Context, comment *models.Comment, notifications []models.Notification) error
	ListComments(ctx context.Context, issueID string) ([]models.CommentDetail, error)
}

type issueUserReader interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	ListAdmins(ctx context.Context) ([]models.User, error)
}

type issueCourseReader interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
}

type issueCategoryReader interface {
	FindByID(ctx context.Context, id string) (*models.IssueCategory, error)
}

type issueEnrollmentReader interface {
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
}

// sideEffectDispatcher is the notification service surface the lifecycle
// engine drives after a transaction commits.
type sideEffectDispatcher interface {
	NotificationsStored(ctx context.Context, userIDs ...string)
	EnqueueEmail(to, toName, subject, body string)
}

// CreateIssueRequest describes the issue creation payload. The student field
// is never caller-supplied: it is forced to the authenticated principal.
type CreateIssueRequest struct {
	Title         string   `json:"title" validate:"required,max=200"`
	Description   string   `json:"description" validate:"required"`
	CategoryID    string   `json:"category_id" validate:"required"`
	CourseID      string   `json:"course_id" validate:"required"`
	EnrollmentID  *string  `json:"enrollment_id"`
	CurrentGrade  *float64 `json:"current_grade"`
	ExpectedGrade *float64 `json:"expected_grade"`
	Priority      string   `json:"priority" validate:"omitempty,issuepriority"`
	Attachment    *string  `json:"attachment"`
}

// AssignIssueRequest names the new assignee.
type AssignIssueRequest struct {
	AssignedTo string `json:"assigned_to" validate:"required"`
}

// ChangeStatusRequest carries the target status.
type ChangeStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

// UpdateGradeRequest carries the replacement grade as submitted, parsed by the
// service so malformed input maps to INVALID_GRADE_FORMAT.
type UpdateGradeRequest struct {
	NewGrade string `json:"new_grade" validate:"required"`
}

// AddCommentRequest describes the comment payload.
type AddCommentRequest struct {
	Content    string  `json:"content" validate:"required"`
	Attachment *string `json:"attachment"`
}

// IssueService is the issue lifecycle engine. It consults the access policy,
// applies the state transition, and triggers audit and notification side
// effects as one unit of work per operation.
type IssueService struct {
	repo        issueRepository
	users       issueUserReader
	courses     issueCourseReader
	categories  issueCategoryReader
	enrollments issueEnrollmentReader
	policy      *AccessPolicy
	dispatcher  sideEffectDispatcher
	validator   *validator.Validate
	logger      *zap.Logger

	emailOnStatusChange bool
}

// NewIssueService constructs the lifecycle engine.
func NewIssueService(
	repo issueRepository,
	users issueUserReader,
	courses issueCourseReader,
	categories issueCategoryReader,
	enrollments issueEnrollmentReader,
	policy *AccessPolicy,
	dispatcher sideEffectDispatcher,
	validate *validator.Validate,
	logger *zap.Logger,
	emailOnStatusChange bool,
) *IssueService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy == nil {
		policy = NewAccessPolicy()
	}
	_ = validate.RegisterValidation("issuepriority", func(fl validator.FieldLevel) bool {
		return models.IssuePriority(fl.Field().String()).Valid()
	})
	return &IssueService{
		repo:                repo,
		users:               users,
		courses:             courses,
		categories:          categories,
		enrollments:         enrollments,
		policy:              policy,
		dispatcher:          dispatcher,
		validator:           validate,
		logger:              logger,
		emailOnStatusChange: emailOnStatusChange,
	}
}

// List returns the issues visible to the principal.
func (s *IssueService) List(ctx context.Context, principal *models.JWTClaims, filter models.IssueFilter) ([]models.IssueDetail, *models.Pagination, error) {
	filter = s.policy.ScopeIssueFilter(principal, filter)
	issues, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list issues")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return issues, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get returns one issue, enforcing the visibility rule.
func (s *IssueService) Get(ctx context.Context, principal *models.JWTClaims, id string) (*models.IssueDetail, error) {
	issue, err := s.loadIssue(ctx, id)
	if err != nil {
		return nil, err
	}
	if !s.policy.CanViewIssue(principal, issue) {
		return nil, appErrors.ErrForbidden
	}
	return issue, nil
}

// Create reports a new issue on behalf of the authenticated student and
// notifies the course's lecturer (if any) and every admin.
func (s *IssueService) Create(ctx context.Context, principal *models.JWTClaims, req CreateIssueRequest) (*models.IssueDetail, error) {
	if !s.policy.CanCreateIssue(principal) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only students can report issues")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid issue payload")
	}

	if _, err := s.categories.FindByID(ctx, req.CategoryID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "category not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load category")
	}
	course, err := s.courses.FindByID(ctx, req.CourseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	if req.EnrollmentID != nil {
		enrollment, err := s.enrollments.FindByID(ctx, *req.EnrollmentID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
		}
		if enrollment.StudentID != principal.UserID {
			return nil, appErrors.Clone(appErrors.ErrValidation, "enrollment does not belong to caller")
		}
	}

	priority := models.IssuePriorityMedium
	if req.Priority != "" {
		priority = models.IssuePriority(req.Priority)
	}

	issue := &models.Issue{
		Title:         req.Title,
		Description:   req.Description,
		CategoryID:    req.CategoryID,
		StudentID:     principal.UserID,
		CourseID:      req.CourseID,
		EnrollmentID:  req.EnrollmentID,
		CurrentGrade:  req.CurrentGrade,
		ExpectedGrade: req.ExpectedGrade,
		Status:        models.IssueStatusPending,
		Priority:      priority,
		Attachment:    req.Attachment,
	}

	admins, err := s.users.ListAdmins(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load admin recipients")
	}

	var notifications []models.Notification
	if course.LecturerID != nil {
		notifications = append(notifications, models.Notification{
			UserID:  *course.LecturerID,
			Title:   "New Issue Reported",
			Message: fmt.Sprintf("A new issue %q has been reported for %s", issue.Title, course.Code),
		})
	}
	for _, admin := range admins {
		notifications = append(notifications, models.Notification{
			UserID:  admin.ID,
			Title:   "New Issue Reported",
			Message: fmt.Sprintf("A new issue %q has been reported by %s", issue.Title, principal.FullName),
		})
	}

	if err := s.repo.Create(ctx, issue, notifications); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create issue")
	}
	s.invalidateRecipients(ctx, notifications)

	return s.loadIssue(ctx, issue.ID)
}

// Assign routes the issue to a lecturer or admin, records the prior assignee
// in the audit ledger, and notifies the new assignee.
func (s *IssueService) Assign(ctx context.Context, principal *models.JWTClaims, issueID string, req AssignIssueRequest) (*models.IssueDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid assignment payload")
	}
	issue, err := s.loadIssue(ctx, issueID)
	if err != nil {
		return nil, err
	}

	assignee, err := s.users.FindByID(ctx, req.AssignedTo)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load assignee")
	}
	if !assignee.Role.CanBeAssignee() {
		return nil, appErrors.ErrInvalidAssignee
	}

	notification := &models.Notification{
		UserID:  assignee.ID,
		Title:   "Issue Assigned",
		Message: fmt.Sprintf("You have been assigned to issue %q", issue.Title),
	}
	if _, err := s.repo.Assign(ctx, issueID, assignee, principal.UserID, notification); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "issue not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to assign issue")
	}
	s.dispatcher.NotificationsStored(ctx, assignee.ID)

	return s.loadIssue(ctx, issueID)
}

// ChangeStatus transitions the issue to any recognized status, records the
// prior status in the audit ledger, and notifies the reporting student in-app
// and, when enabled, by best-effort email.
func (s *IssueService) ChangeStatus(ctx context.Context, principal *models.JWTClaims, issueID string, req ChangeStatusRequest) (*models.IssueDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid status payload")
	}
	issue, err := s.loadIssue(ctx, issueID)
	if err != nil {
		return nil, err
	}
	if !s.policy.CanViewIssue(principal, issue) {
		return nil, appErrors.ErrForbidden
	}

	newStatus := models.IssueStatus(req.Status)
	if !newStatus.Valid() {
		return nil, appErrors.ErrInvalidStatus
	}

	notification := &models.Notification{
		UserID:  issue.StudentID,
		Title:   "Issue Status Updated",
		Message: fmt.Sprintf("Your issue %q status has been updated to %s", issue.Title, newStatus.Display()),
	}
	if _, err := s.repo.ChangeStatus(ctx, issueID, newStatus, principal.UserID, notification); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "issue not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to change status")
	}
	s.dispatcher.NotificationsStored(ctx, issue.StudentID)

	if s.emailOnStatusChange {
		if student, err := s.users.FindByID(ctx, issue.StudentID); err != nil {
			s.logger.Warn("skipping status email, student lookup failed", zap.String("issue_id", issueID), zap.Error(err))
		} else {
			s.dispatcher.EnqueueEmail(
				student.Email,
				student.FullName,
				fmt.Sprintf("Issue Status Update: %s", issue.Title),
				notification.Message,
			)
		}
	}

	return s.loadIssue(ctx, issueID)
}

// UpdateGrade parses and records the replacement grade on the issue and its
// linked enrollment, records the prior grade in the audit ledger, and
// notifies the student.
func (s *IssueService) UpdateGrade(ctx context.Context, principal *models.JWTClaims, issueID string, req UpdateGradeRequest) (*models.IssueDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid grade payload")
	}
	issue, err := s.loadIssue(ctx, issueID)
	if err != nil {
		return nil, err
	}
	if !s.policy.CanViewIssue(principal, issue) {
		return nil, appErrors.ErrForbidden
	}

	grade, err := strconv.ParseFloat(req.NewGrade, 64)
	if err != nil {
		return nil, appErrors.ErrInvalidGradeFormat
	}

	notification := &models.Notification{
		UserID:  issue.StudentID,
		Title:   "Grade Updated",
		Message: fmt.Sprintf("Your grade for %s has been updated to %s", issue.CourseCode, strconv.FormatFloat(grade, 'f', -1, 64)),
	}
	if _, err := s.repo.UpdateGrade(ctx, issueID, grade, principal.UserID, notification); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "issue not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update grade")
	}
	s.dispatcher.NotificationsStored(ctx, issue.StudentID)

	return s.loadIssue(ctx, issueID)
}

// AddComment appends an immutable comment and notifies every other interested
// party exactly once: the student, the assignee, and the course lecturer,
// minus the author, deduplicated by recipient.
func (s *IssueService) AddComment(ctx context.Context, principal *models.JWTClaims, issueID string, req AddCommentRequest) (*models.Comment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid comment payload")
	}
	issue, err := s.loadIssue(ctx, issueID)
	if err != nil {
		return nil, err
	}
	if !s.policy.CanViewIssue(principal, issue) {
		return nil, appErrors.ErrForbidden
	}

	comment := &models.Comment{
		IssueID:    issueID,
		AuthorID:   principal.UserID,
		Content:    req.Content,
		Attachment: req.Attachment,
	}

	notifications := s.commentFanOut(issue, principal.UserID)
	if err := s.repo.CreateComment(ctx, comment, notifications); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create comment")
	}
	s.invalidateRecipients(ctx, notifications)

	return comment, nil
}

// ListComments returns an issue's comments, enforcing the visibility rule.
func (s *IssueService) ListComments(ctx context.Context, principal *models.JWTClaims, issueID string) ([]models.CommentDetail, error) {
	issue, err := s.loadIssue(ctx, issueID)
	if err != nil {
		return nil, err
	}
	if !s.policy.CanViewIssue(principal, issue) {
		return nil, appErrors.ErrForbidden
	}
	comments, err := s.repo.ListComments(ctx, issueID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list comments")
	}
	return comments, nil
}

// commentFanOut builds the deduplicated recipient list for a new comment.
// A user who is simultaneously student, assignee, and lecturer receives one
// notification, with the student-facing wording taking precedence.
func (s *IssueService) commentFanOut(issue *models.IssueDetail, authorID string) []models.Notification {
	seen := map[string]struct{}{authorID: {}}
	var notifications []models.Notification
	add := func(userID, message string) {
		if _, ok := seen[userID]; ok {
			return
		}
		seen[userID] = struct{}{}
		notifications = append(notifications, models.Notification{
			UserID:  userID,
			Title:   "New Comment",
			Message: message,
		})
	}

	add(issue.StudentID, fmt.Sprintf("New comment on your issue %q", issue.Title))
	if issue.AssignedTo != nil {
		add(*issue.AssignedTo, fmt.Sprintf("New comment on issue %q that you're assigned to", issue.Title))
	}
	if issue.CourseLecturerID != nil {
		add(*issue.CourseLecturerID, fmt.Sprintf("New comment on issue %q for your course %s", issue.Title, issue.CourseCode))
	}
	return notifications
}

func (s *IssueService) loadIssue(ctx context.Context, id string) (*models.IssueDetail, error) {
	issue, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "issue not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load issue")
	}
	return issue, nil
}

func (s *IssueService) invalidateRecipients(ctx context.Context, notifications []models.Notification) {
	if len(notifications) == 0 {
		return
	}
	ids := make([]string, 0, len(notifications))
	for _, n := range notifications {
		ids = append(ids, n.UserID)
	}
	s.dispatcher.NotificationsStored(ctx, ids...)
}
