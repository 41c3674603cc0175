package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/makerere-aits/aits-api/internal/models"
)

func newIssueRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

var lockedIssueColumns = []string{
	"id", "title", "description", "category_id", "student_id", "course_id",
	"enrollment_id", "current_grade", "expected_grade", "status", "priority", "assigned_to", "attachment",
	"created_at", "updated_at", "resolved_at", "assignee_name",
}

func lockedIssueRow(enrollmentID interface{}, currentGrade interface{}, status string, assignedTo, assigneeName interface{}, resolvedAt interface{}) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows(lockedIssueColumns).
		AddRow("i1", "Missing mark", "CAT 2 missing", "cat1", "stu1", "c1",
			enrollmentID, currentGrade, nil, status, "medium", assignedTo, nil,
			now, now, resolvedAt, assigneeName)
}

var issueDetailTestColumns = []string{
	"id", "title", "description", "category_id", "student_id", "course_id",
	"enrollment_id", "current_grade", "expected_grade", "status", "priority", "assigned_to", "attachment",
	"created_at", "updated_at", "resolved_at",
	"student_name", "course_code", "course_name", "course_lecturer_id", "category_name", "assignee_name",
}

func TestIssueRepositoryListFiltersByStudent(t *testing.T) {
	db, mock, cleanup := newIssueRepoMock(t)
	defer cleanup()
	repo := NewIssueRepository(db)

	now := time.Now().UTC()
	rows := sqlmock.NewRows(issueDetailTestColumns).
		AddRow("i1", "Missing mark", "CAT 2 missing", "cat1", "stu1", "c1",
			nil, nil, nil, "pending", "medium", nil, nil,
			now, now, nil,
			"Alice Okello", "CS101", "Computing Fundamentals", nil, "Missing Marks", nil)
	mock.ExpectQuery(`SELECT .+ WHERE i\.student_id = \$1 ORDER BY`).
		WithArgs("stu1").
		WillReturnRows(rows)
	mock.ExpectQuery(`SELECT COUNT\(\*\) .+ WHERE i\.student_id = \$1`).
		WithArgs("stu1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	issues, total, err := repo.List(context.Background(), models.IssueFilter{StudentID: "stu1"})
	require.NoError(t, err)
	require.Len(t, issues, 1)
	require.Equal(t, "stu1", issues[0].StudentID)
	require.Equal(t, 1, total)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIssueRepositoryCreateInsertsNotificationsInOneTx(t *testing.T) {
	db, mock, cleanup := newIssueRepoMock(t)
	defer cleanup()
	repo := NewIssueRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO issues")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO notifications")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO notifications")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	issue := &models.Issue{Title: "Missing mark", Description: "CAT 2 missing", CategoryID: "cat1", StudentID: "stu1", CourseID: "c1"}
	notifications := []models.Notification{
		{UserID: "lect1", Title: "New Issue Reported", Message: "m1"},
		{UserID: "adm1", Title: "New Issue Reported", Message: "m2"},
	}
	require.NoError(t, repo.Create(context.Background(), issue, notifications))
	require.Equal(t, models.IssueStatusPending, issue.Status)
	require.Equal(t, models.IssuePriorityMedium, issue.Priority)
	require.NotNil(t, notifications[0].IssueID)
	require.Equal(t, issue.ID, *notifications[0].IssueID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIssueRepositoryAssignRecordsPriorAssignee(t *testing.T) {
	db, mock, cleanup := newIssueRepoMock(t)
	defer cleanup()
	repo := NewIssueRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .+ FOR UPDATE OF i").
		WithArgs("i1").
		WillReturnRows(lockedIssueRow(nil, nil, "pending", nil, nil, nil))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE issues SET assigned_to")).
		WithArgs("i1", "lect1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_logs")).
		WithArgs(sqlmock.AnyArg(), "i1", "adm1", models.AuditActionIssueAssigned, models.AuditValueNone, "Dr. Okot", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO notifications")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	assignee := &models.User{ID: "lect1", FullName: "Dr. Okot", Role: models.RoleLecturer}
	notification := &models.Notification{UserID: "lect1", Title: "Issue Assigned", Message: "m"}
	updated, err := repo.Assign(context.Background(), "i1", assignee, "adm1", notification)
	require.NoError(t, err)
	require.NotNil(t, updated.AssignedTo)
	require.Equal(t, "lect1", *updated.AssignedTo)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIssueRepositoryReassignRecordsPreviousAssigneeName(t *testing.T) {
	db, mock, cleanup := newIssueRepoMock(t)
	defer cleanup()
	repo := NewIssueRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .+ FOR UPDATE OF i").
		WithArgs("i1").
		WillReturnRows(lockedIssueRow(nil, nil, "in_progress", "lect1", "Dr. Okot", nil))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE issues SET assigned_to")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_logs")).
		WithArgs(sqlmock.AnyArg(), "i1", "adm1", models.AuditActionIssueAssigned, "Dr. Okot", "Dr. Namara", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	assignee := &models.User{ID: "lect2", FullName: "Dr. Namara", Role: models.RoleLecturer}
	_, err := repo.Assign(context.Background(), "i1", assignee, "adm1", nil)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIssueRepositoryChangeStatusSetsResolvedAtOnce(t *testing.T) {
	db, mock, cleanup := newIssueRepoMock(t)
	defer cleanup()
	repo := NewIssueRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .+ FOR UPDATE OF i").
		WithArgs("i1").
		WillReturnRows(lockedIssueRow(nil, nil, "pending", nil, nil, nil))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE issues SET status")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_logs")).
		WithArgs(sqlmock.AnyArg(), "i1", "adm1", models.AuditActionStatusChanged, "pending", "resolved", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	updated, err := repo.ChangeStatus(context.Background(), "i1", models.IssueStatusResolved, "adm1", nil)
	require.NoError(t, err)
	require.Equal(t, models.IssueStatusResolved, updated.Status)
	require.NotNil(t, updated.ResolvedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIssueRepositoryChangeStatusKeepsResolvedAtAfterLeaving(t *testing.T) {
	db, mock, cleanup := newIssueRepoMock(t)
	defer cleanup()
	repo := NewIssueRepository(db)

	resolvedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .+ FOR UPDATE OF i").
		WithArgs("i1").
		WillReturnRows(lockedIssueRow(nil, nil, "resolved", nil, nil, resolvedAt))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE issues SET status")).
		WithArgs("i1", models.IssueStatusInProgress, resolvedAt, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_logs")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	updated, err := repo.ChangeStatus(context.Background(), "i1", models.IssueStatusInProgress, "adm1", nil)
	require.NoError(t, err)
	require.NotNil(t, updated.ResolvedAt)
	require.Equal(t, resolvedAt, *updated.ResolvedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIssueRepositoryUpdateGradeSyncsEnrollment(t *testing.T) {
	db, mock, cleanup := newIssueRepoMock(t)
	defer cleanup()
	repo := NewIssueRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .+ FOR UPDATE OF i").
		WithArgs("i1").
		WillReturnRows(lockedIssueRow("enr1", nil, "in_progress", nil, nil, nil))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE issues SET current_grade")).
		WithArgs("i1", 85.5, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollments SET current_grade")).
		WithArgs("enr1", 85.5).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_logs")).
		WithArgs(sqlmock.AnyArg(), "i1", "lect1", models.AuditActionGradeUpdated, models.AuditValueNone, "85.5", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	updated, err := repo.UpdateGrade(context.Background(), "i1", 85.5, "lect1", nil)
	require.NoError(t, err)
	require.NotNil(t, updated.CurrentGrade)
	require.Equal(t, 85.5, *updated.CurrentGrade)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIssueRepositoryUpdateGradeSkipsEnrollmentWhenUnlinked(t *testing.T) {
	db, mock, cleanup := newIssueRepoMock(t)
	defer cleanup()
	repo := NewIssueRepository(db)

	prior := 60.0
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .+ FOR UPDATE OF i").
		WithArgs("i1").
		WillReturnRows(lockedIssueRow(nil, prior, "in_progress", nil, nil, nil))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE issues SET current_grade")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_logs")).
		WithArgs(sqlmock.AnyArg(), "i1", "lect1", models.AuditActionGradeUpdated, "60", "70", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	_, err := repo.UpdateGrade(context.Background(), "i1", 70, "lect1", nil)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIssueRepositoryCreateCommentFansOut(t *testing.T) {
	db, mock, cleanup := newIssueRepoMock(t)
	defer cleanup()
	repo := NewIssueRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO comments")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO notifications")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO notifications")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	comment := &models.Comment{IssueID: "i1", AuthorID: "adm1", Content: "Looking into it"}
	notifications := []models.Notification{
		{UserID: "stu1", Title: "New Comment", Message: "m1"},
		{UserID: "lect1", Title: "New Comment", Message: "m2"},
	}
	require.NoError(t, repo.CreateComment(context.Background(), comment, notifications))
	require.NoError(t, mock.ExpectationsWereMet())
}
