package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/makerere-aits/aits-api/internal/models"
)

// IssueRepository owns persistence for issues, their comments, and the
// transactional lifecycle mutations. Every mutation applies the state change,
// its audit entry, and its notification fan-out in one transaction so no
// partial state is ever observable.
type IssueRepository struct {
	db *sqlx.DB
}

// NewIssueRepository constructs the repository.
func NewIssueRepository(db *sqlx.DB) *IssueRepository {
	return &IssueRepository{db: db}
}

const issueDetailColumns = `i.id, i.title, i.description, i.category_id, i.student_id, i.course_id,
        i.enrollment_id, i.current_grade, i.expected_grade, i.status, i.priority, i.assigned_to, i.attachment,
        i.created_at, i.updated_at, i.resolved_at,
        s.full_name AS student_name, c.code AS course_code, c.name AS course_name, c.lecturer_id AS course_lecturer_id,
        cat.name AS category_name, a.full_name AS assignee_name`

const issueDetailJoins = `FROM issues i
JOIN users s ON s.id = i.student_id
JOIN courses c ON c.id = i.course_id
JOIN issue_categories cat ON cat.id = i.category_id
LEFT JOIN users a ON a.id = i.assigned_to`

// List returns issues visible to the caller, scoped by the filter's viewer fields.
func (r *IssueRepository) List(ctx context.Context, filter models.IssueFilter) ([]models.IssueDetail, int, error) {
	base := issueDetailJoins
	var conditions []string
	var args []interface{}

	if filter.ViewerStudentID != "" {
		conditions = append(conditions, fmt.Sprintf("i.student_id = $%d", len(args)+1))
		args = append(args, filter.ViewerStudentID)
	}
	if filter.ViewerLecturerID != "" {
		conditions = append(conditions, fmt.Sprintf("(c.lecturer_id = $%d OR i.assigned_to = $%d)", len(args)+1, len(args)+1))
		args = append(args, filter.ViewerLecturerID)
	}
	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("i.student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.CourseID != "" {
		conditions = append(conditions, fmt.Sprintf("i.course_id = $%d", len(args)+1))
		args = append(args, filter.CourseID)
	}
	if filter.CategoryID != "" {
		conditions = append(conditions, fmt.Sprintf("i.category_id = $%d", len(args)+1))
		args = append(args, filter.CategoryID)
	}
	if filter.AssignedTo != "" {
		conditions = append(conditions, fmt.Sprintf("i.assigned_to = $%d", len(args)+1))
		args = append(args, filter.AssignedTo)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("i.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}
	if filter.Priority != "" {
		conditions = append(conditions, fmt.Sprintf("i.priority = $%d", len(args)+1))
		args = append(args, filter.Priority)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(i.title ILIKE $%d OR i.description ILIKE $%d)", len(args)+1, len(args)+1))
		args = append(args, "%"+filter.Search+"%")
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"created_at": "i.created_at",
		"updated_at": "i.updated_at",
		"priority":   "i.priority",
		"status":     "i.status",
	}
	orderBy := allowedSorts[filter.SortBy]
	if orderBy == "" {
		orderBy = "i.created_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT %s %s ORDER BY %s %s LIMIT %d OFFSET %d`, issueDetailColumns, base+clause, orderBy, order, size, offset)

	var issues []models.IssueDetail
	if err := r.db.SelectContext(ctx, &issues, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list issues: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count issues: %w", err)
	}
	return issues, total, nil
}

// FindDetailByID returns an issue with contextual info.
func (r *IssueRepository) FindDetailByID(ctx context.Context, id string) (*models.IssueDetail, error) {
	query := fmt.Sprintf("SELECT %s %s WHERE i.id = $1", issueDetailColumns, issueDetailJoins)
	var detail models.IssueDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find issue: %w", err)
	}
	return &detail, nil
}

// Create persists a new issue and its creation notifications atomically.
func (r *IssueRepository) Create(ctx context.Context, issue *models.Issue, notifications []models.Notification) error {
	if issue.ID == "" {
		issue.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	issue.CreatedAt = now
	issue.UpdatedAt = now
	if issue.Status == "" {
		issue.Status = models.IssueStatusPending
	}
	if issue.Priority == "" {
		issue.Priority = models.IssuePriorityMedium
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	const query = `INSERT INTO issues (id, title, description, category_id, student_id, course_id, enrollment_id,
        current_grade, expected_grade, status, priority, assigned_to, attachment, created_at, updated_at, resolved_at)
        VALUES (:id, :title, :description, :category_id, :student_id, :course_id, :enrollment_id,
        :current_grade, :expected_grade, :status, :priority, :assigned_to, :attachment, :created_at, :updated_at, :resolved_at)`
	if _, err := tx.NamedExecContext(ctx, query, issue); err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("create issue: %w", err)
	}
	for i := range notifications {
		notifications[i].IssueID = &issue.ID
		if err := insertNotificationTx(ctx, tx, &notifications[i]); err != nil {
			tx.Rollback() //nolint:errcheck
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit issue: %w", err)
	}
	return nil
}

// lockedIssue is the issue row plus the current assignee name, read FOR UPDATE
// so the audit entry records the committed prior value.
type lockedIssue struct {
	models.Issue
	AssigneeName *string `db:"assignee_name"`
}

const issueLockQuery = `SELECT i.id, i.title, i.description, i.category_id, i.student_id, i.course_id,
        i.enrollment_id, i.current_grade, i.expected_grade, i.status, i.priority, i.assigned_to, i.attachment,
        i.created_at, i.updated_at, i.resolved_at, a.full_name AS assignee_name
        FROM issues i LEFT JOIN users a ON a.id = i.assigned_to
        WHERE i.id = $1 FOR UPDATE OF i`

// Assign sets the issue's assignee, appends the audit entry recording the
// prior assignee, and persists the assignee's notification, atomically.
func (r *IssueRepository) Assign(ctx context.Context, issueID string, assignee *models.User, actorID string, notification *models.Notification) (*models.Issue, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}

	var current lockedIssue
	if err := tx.GetContext(ctx, &current, issueLockQuery, issueID); err != nil {
		tx.Rollback() //nolint:errcheck
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("lock issue: %w", err)
	}

	now := time.Now().UTC()
	const update = `UPDATE issues SET assigned_to = $2, updated_at = $3 WHERE id = $1`
	if _, err := tx.ExecContext(ctx, update, issueID, assignee.ID, now); err != nil {
		tx.Rollback() //nolint:errcheck
		return nil, fmt.Errorf("assign issue: %w", err)
	}

	oldValue := models.AuditValueNone
	if current.AssigneeName != nil {
		oldValue = *current.AssigneeName
	}
	if err := insertAuditTx(ctx, tx, &models.AuditLogEntry{
		IssueID:  issueID,
		ActorID:  actorID,
		Action:   models.AuditActionIssueAssigned,
		OldValue: oldValue,
		NewValue: assignee.FullName,
	}); err != nil {
		tx.Rollback() //nolint:errcheck
		return nil, err
	}

	if notification != nil {
		notification.IssueID = &issueID
		if err := insertNotificationTx(ctx, tx, notification); err != nil {
			tx.Rollback() //nolint:errcheck
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit assign: %w", err)
	}

	updated := current.Issue
	updated.AssignedTo = &assignee.ID
	updated.UpdatedAt = now
	return &updated, nil
}

// ChangeStatus transitions the issue's status, setting resolved_at when the
// issue enters resolved (and leaving it untouched otherwise), appends the
// audit entry recording the prior status, and persists the student's
// notification, atomically.
func (r *IssueRepository) ChangeStatus(ctx context.Context, issueID string, newStatus models.IssueStatus, actorID string, notification *models.Notification) (*models.Issue, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}

	var current lockedIssue
	if err := tx.GetContext(ctx, &current, issueLockQuery, issueID); err != nil {
		tx.Rollback() //nolint:errcheck
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("lock issue: %w", err)
	}

	now := time.Now().UTC()
	resolvedAt := current.ResolvedAt
	if newStatus == models.IssueStatusResolved {
		resolvedAt = &now
	}
	const update = `UPDATE issues SET status = $2, resolved_at = $3, updated_at = $4 WHERE id = $1`
	if _, err := tx.ExecContext(ctx, update, issueID, newStatus, resolvedAt, now); err != nil {
		tx.Rollback() //nolint:errcheck
		return nil, fmt.Errorf("change status: %w", err)
	}

	if err := insertAuditTx(ctx, tx, &models.AuditLogEntry{
		IssueID:  issueID,
		ActorID:  actorID,
		Action:   models.AuditActionStatusChanged,
		OldValue: string(current.Status),
		NewValue: string(newStatus),
	}); err != nil {
		tx.Rollback() //nolint:errcheck
		return nil, err
	}

	if notification != nil {
		notification.IssueID = &issueID
		if err := insertNotificationTx(ctx, tx, notification); err != nil {
			tx.Rollback() //nolint:errcheck
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit status change: %w", err)
	}

	updated := current.Issue
	updated.Status = newStatus
	updated.ResolvedAt = resolvedAt
	updated.UpdatedAt = now
	return &updated, nil
}

// UpdateGrade records a new current grade on the issue and, when the issue is
// linked to an enrollment, keeps the enrollment's grade in sync in the same
// transaction. The audit entry records the committed prior grade.
func (r *IssueRepository) UpdateGrade(ctx context.Context, issueID string, grade float64, actorID string, notification *models.Notification) (*models.Issue, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}

	var current lockedIssue
	if err := tx.GetContext(ctx, &current, issueLockQuery, issueID); err != nil {
		tx.Rollback() //nolint:errcheck
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("lock issue: %w", err)
	}

	now := time.Now().UTC()
	const update = `UPDATE issues SET current_grade = $2, updated_at = $3 WHERE id = $1`
	if _, err := tx.ExecContext(ctx, update, issueID, grade, now); err != nil {
		tx.Rollback() //nolint:errcheck
		return nil, fmt.Errorf("update issue grade: %w", err)
	}

	if current.EnrollmentID != nil {
		const enrollmentUpdate = `UPDATE enrollments SET current_grade = $2 WHERE id = $1`
		if _, err := tx.ExecContext(ctx, enrollmentUpdate, *current.EnrollmentID, grade); err != nil {
			tx.Rollback() //nolint:errcheck
			return nil, fmt.Errorf("update enrollment grade: %w", err)
		}
	}

	oldValue := models.AuditValueNone
	if current.CurrentGrade != nil {
		oldValue = strconv.FormatFloat(*current.CurrentGrade, 'f', -1, 64)
	}
	if err := insertAuditTx(ctx, tx, &models.AuditLogEntry{
		IssueID:  issueID,
		ActorID:  actorID,
		Action:   models.AuditActionGradeUpdated,
		OldValue: oldValue,
		NewValue: strconv.FormatFloat(grade, 'f', -1, 64),
	}); err != nil {
		tx.Rollback() //nolint:errcheck
		return nil, err
	}

	if notification != nil {
		notification.IssueID = &issueID
		if err := insertNotificationTx(ctx, tx, notification); err != nil {
			tx.Rollback() //nolint:errcheck
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit grade update: %w", err)
	}

	updated := current.Issue
	updated.CurrentGrade = &grade
	updated.UpdatedAt = now
	return &updated, nil
}

// CreateComment appends an immutable comment and its notification fan-out atomically.
func (r *IssueRepository) CreateComment(ctx context.Context, comment *models.Comment, notifications []models.Notification) error {
	if comment.ID == "" {
		comment.ID = uuid.NewString()
	}
	if comment.CreatedAt.IsZero() {
		comment.CreatedAt = time.Now().UTC()
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	const query = `INSERT INTO comments (id, issue_id, author_id, content, attachment, created_at)
        VALUES (:id, :issue_id, :author_id, :content, :attachment, :created_at)`
	if _, err := tx.NamedExecContext(ctx, query, comment); err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("create comment: %w", err)
	}
	for i := range notifications {
		notifications[i].IssueID = &comment.IssueID
		if err := insertNotificationTx(ctx, tx, &notifications[i]); err != nil {
			tx.Rollback() //nolint:errcheck
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit comment: %w", err)
	}
	return nil
}

// ListComments returns an issue's comments ordered oldest first.
func (r *IssueRepository) ListComments(ctx context.Context, issueID string) ([]models.CommentDetail, error) {
	const query = `SELECT cm.id, cm.issue_id, cm.author_id, cm.content, cm.attachment, cm.created_at,
        u.full_name AS author_name, u.role AS author_role
        FROM comments cm JOIN users u ON u.id = cm.author_id
        WHERE cm.issue_id = $1 ORDER BY cm.created_at ASC`
	var comments []models.CommentDetail
	if err := r.db.SelectContext(ctx, &comments, query, issueID); err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	return comments, nil
}

// UpdateAttachment stores the opaque attachment reference for an issue.
func (r *IssueRepository) UpdateAttachment(ctx context.Context, issueID, ref string) error {
	const query = `UPDATE issues SET attachment = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, issueID, ref, time.Now().UTC()); err != nil {
		return fmt.Errorf("update issue attachment: %w", err)
	}
	return nil
}

func insertAuditTx(ctx context.Context, tx *sqlx.Tx, entry *models.AuditLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO audit_logs (id, issue_id, actor_id, action, old_value, new_value, created_at)
        VALUES (:id, :issue_id, :actor_id, :action, :old_value, :new_value, :created_at)`
	if _, err := tx.NamedExecContext(ctx, query, entry); err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

func insertNotificationTx(ctx context.Context, tx *sqlx.Tx, n *models.Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO notifications (id, user_id, issue_id, title, message, is_read, created_at)
        VALUES (:id, :user_id, :issue_id, :title, :message, :is_read, :created_at)`
	if _, err := tx.NamedExecContext(ctx, query, n); err != nil {
		return fmt.Errorf("create notification: %w", err)
	}
	return nil
}
