package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/makerere-aits/aits-api/internal/models"
	appErrors "github.com/makerere-aits/aits-api/pkg/errors"
)

type mockIssueRepo struct {
	issues        map[string]models.IssueDetail
	created       *models.Issue
	notifications []models.Notification
	audits        []string
	comments      []models.Comment
}

func (m *mockIssueRepo) List(ctx context.Context, filter models.IssueFilter) ([]models.IssueDetail, int, error) {
	var out []models.IssueDetail
	for _, issue := range m.issues {
		out = append(out, issue)
	}
	return out, len(out), nil
}

func (m *mockIssueRepo) FindDetailByID(ctx context.Context, id string) (*models.IssueDetail, error) {
	if issue, ok := m.issues[id]; ok {
		return &issue, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockIssueRepo) Create(ctx context.Context, issue *models.Issue, notifications []models.Notification) error {
	if m.issues == nil {
		m.issues = make(map[string]models.IssueDetail)
	}
	if issue.ID == "" {
		issue.ID = "new-issue"
	}
	m.created = issue
	m.notifications = append(m.notifications, notifications...)
	m.issues[issue.ID] = models.IssueDetail{Issue: *issue}
	return nil
}

func (m *mockIssueRepo) Assign(ctx context.Context, issueID string, assignee *models.User, actorID string, notification *models.Notification) (*models.Issue, error) {
	detail, ok := m.issues[issueID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	detail.AssignedTo = &assignee.ID
	m.issues[issueID] = detail
	m.audits = append(m.audits, models.AuditActionIssueAssigned)
	if notification != nil {
		m.notifications = append(m.notifications, *notification)
	}
	issue := detail.Issue
	return &issue, nil
}

func (m *mockIssueRepo) ChangeStatus(ctx context.Context, issueID string, newStatus models.IssueStatus, actorID string, notification *models.Notification) (*models.Issue, error) {
	detail, ok := m.issues[issueID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	detail.Status = newStatus
	m.issues[issueID] = detail
	m.audits = append(m.audits, models.AuditActionStatusChanged)
	if notification != nil {
		m.notifications = append(m.notifications, *notification)
	}
	issue := detail.Issue
	return &issue, nil
}

func (m *mockIssueRepo) UpdateGrade(ctx context.Context, issueID string, grade float64, actorID string, notification *models.Notification) (*models.Issue, error) {
	detail, ok := m.issues[issueID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	detail.CurrentGrade = &grade
	m.issues[issueID] = detail
	m.audits = append(m.audits, models.AuditActionGradeUpdated)
	if notification != nil {
		m.notifications = append(m.notifications, *notification)
	}
	issue := detail.Issue
	return &issue, nil
}

func (m *mockIssueRepo) CreateComment(ctx context.Context, comment *models.Comment, notifications []models.Notification) error {
	if comment.ID == "" {
		comment.ID = "new-comment"
	}
	m.comments = append(m.comments, *comment)
	m.notifications = append(m.notifications, notifications...)
	return nil
}

func (m *mockIssueRepo) ListComments(ctx context.Context, issueID string) ([]models.CommentDetail, error) {
	var out []models.CommentDetail
	for _, c := range m.comments {
		if c.IssueID == issueID {
			out = append(out, models.CommentDetail{Comment: c})
		}
	}
	return out, nil
}

type mockUserReader struct {
	users  map[string]*models.User
	admins []models.User
}

func (m *mockUserReader) FindByID(ctx context.Context, id string) (*models.User, error) {
	if u, ok := m.users[id]; ok {
		return u, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockUserReader) ListAdmins(ctx context.Context) ([]models.User, error) {
	return m.admins, nil
}

type mockCourseReader struct {
	courses map[string]*models.Course
}

func (m *mockCourseReader) FindByID(ctx context.Context, id string) (*models.Course, error) {
	if c, ok := m.courses[id]; ok {
		return c, nil
	}
	return nil, sql.ErrNoRows
}

type mockCategoryReader struct {
	categories map[string]*models.IssueCategory
}

func (m *mockCategoryReader) FindByID(ctx context.Context, id string) (*models.IssueCategory, error) {
	if c, ok := m.categories[id]; ok {
		return c, nil
	}
	return nil, sql.ErrNoRows
}

type mockEnrollmentReader struct {
	enrollments map[string]*models.Enrollment
}

func (m *mockEnrollmentReader) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	if e, ok := m.enrollments[id]; ok {
		return e, nil
	}
	return nil, sql.ErrNoRows
}

type mockDispatcher struct {
	invalidated []string
	emails      []string
}

func (m *mockDispatcher) NotificationsStored(ctx context.Context, userIDs ...string) {
	m.invalidated = append(m.invalidated, userIDs...)
}

func (m *mockDispatcher) EnqueueEmail(to, toName, subject, body string) {
	m.emails = append(m.emails, to)
}

func studentClaims(id, name string) *models.JWTClaims {
	return &models.JWTClaims{UserID: id, Role: models.RoleStudent, FullName: name}
}

func adminClaims(id string) *models.JWTClaims {
	return &models.JWTClaims{UserID: id, Role: models.RoleAdmin}
}

func newIssueService(repo *mockIssueRepo, users *mockUserReader, courses *mockCourseReader, dispatcher *mockDispatcher, emailOnStatusChange bool) *IssueService {
	categories := &mockCategoryReader{categories: map[string]*models.IssueCategory{"cat1": {ID: "cat1", Name: "Missing Marks"}}}
	enrollments := &mockEnrollmentReader{enrollments: map[string]*models.Enrollment{}}
	return NewIssueService(repo, users, courses, categories, enrollments, NewAccessPolicy(), dispatcher, validator.New(), zap.NewNop(), emailOnStatusChange)
}

func TestIssueServiceCreateNotifiesLecturerAndAdmins(t *testing.T) {
	lecturerID := "lect1"
	repo := &mockIssueRepo{}
	users := &mockUserReader{admins: []models.User{{ID: "adm1", Role: models.RoleAdmin}, {ID: "adm2", Role: models.RoleAdmin}}}
	courses := &mockCourseReader{courses: map[string]*models.Course{"c1": {ID: "c1", Code: "CS101", LecturerID: &lecturerID}}}
	dispatcher := &mockDispatcher{}
	svc := newIssueService(repo, users, courses, dispatcher, false)

	detail, err := svc.Create(context.Background(), studentClaims("stu1", "Alice Okello"), CreateIssueRequest{
		Title:       "Missing coursework mark",
		Description: "My CAT 2 mark is not recorded",
		CategoryID:  "cat1",
		CourseID:    "c1",
	})
	require.NoError(t, err)
	require.NotNil(t, repo.created)

	assert.Equal(t, models.IssueStatusPending, detail.Status)
	assert.Equal(t, models.IssuePriorityMedium, detail.Priority)
	assert.Equal(t, "stu1", detail.StudentID)
	require.Len(t, repo.notifications, 3)
	assert.Equal(t, "lect1", repo.notifications[0].UserID)
	assert.Equal(t, "New Issue Reported", repo.notifications[0].Title)
}

func TestIssueServiceCreateRejectsNonStudents(t *testing.T) {
	repo := &mockIssueRepo{}
	svc := newIssueService(repo, &mockUserReader{}, &mockCourseReader{}, &mockDispatcher{}, false)

	_, err := svc.Create(context.Background(), adminClaims("adm1"), CreateIssueRequest{
		Title: "x", Description: "y", CategoryID: "cat1", CourseID: "c1",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
	assert.Nil(t, repo.created)
}

func TestIssueServiceAssignRejectsStudents(t *testing.T) {
	repo := &mockIssueRepo{issues: map[string]models.IssueDetail{"i1": {Issue: models.Issue{ID: "i1", Title: "Missing mark", StudentID: "stu1"}}}}
	users := &mockUserReader{users: map[string]*models.User{"stu2": {ID: "stu2", Role: models.RoleStudent}}}
	svc := newIssueService(repo, users, &mockCourseReader{}, &mockDispatcher{}, false)

	_, err := svc.Assign(context.Background(), adminClaims("adm1"), "i1", AssignIssueRequest{AssignedTo: "stu2"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidAssignee.Code, appErrors.FromError(err).Code)
	assert.Empty(t, repo.audits)
	assert.Empty(t, repo.notifications)
}

func TestIssueServiceAssignNotifiesAssignee(t *testing.T) {
	repo := &mockIssueRepo{issues: map[string]models.IssueDetail{"i1": {Issue: models.Issue{ID: "i1", Title: "Missing mark", StudentID: "stu1"}}}}
	users := &mockUserReader{users: map[string]*models.User{"lect1": {ID: "lect1", Role: models.RoleLecturer}}}
	dispatcher := &mockDispatcher{}
	svc := newIssueService(repo, users, &mockCourseReader{}, dispatcher, false)

	detail, err := svc.Assign(context.Background(), adminClaims("adm1"), "i1", AssignIssueRequest{AssignedTo: "lect1"})
	require.NoError(t, err)
	require.NotNil(t, detail.AssignedTo)
	assert.Equal(t, "lect1", *detail.AssignedTo)
	require.Len(t, repo.notifications, 1)
	assert.Equal(t, "lect1", repo.notifications[0].UserID)
	assert.Equal(t, "Issue Assigned", repo.notifications[0].Title)
	assert.Contains(t, repo.audits, models.AuditActionIssueAssigned)
	assert.Contains(t, dispatcher.invalidated, "lect1")
}

func TestIssueServiceChangeStatusRejectsUnknownStatus(t *testing.T) {
	repo := &mockIssueRepo{issues: map[string]models.IssueDetail{"i1": {Issue: models.Issue{ID: "i1", Title: "Missing mark", StudentID: "stu1"}}}}
	svc := newIssueService(repo, &mockUserReader{}, &mockCourseReader{}, &mockDispatcher{}, false)

	_, err := svc.ChangeStatus(context.Background(), adminClaims("adm1"), "i1", ChangeStatusRequest{Status: "escalated"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidStatus.Code, appErrors.FromError(err).Code)
	assert.Empty(t, repo.audits)
}

func TestIssueServiceChangeStatusNotifiesStudentAndEmails(t *testing.T) {
	repo := &mockIssueRepo{issues: map[string]models.IssueDetail{"i1": {Issue: models.Issue{ID: "i1", Title: "Missing mark", StudentID: "stu1", Status: models.IssueStatusPending}}}}
	users := &mockUserReader{users: map[string]*models.User{"stu1": {ID: "stu1", Email: "stu1@example.ac.ug", FullName: "Alice Okello", Role: models.RoleStudent}}}
	dispatcher := &mockDispatcher{}
	svc := newIssueService(repo, users, &mockCourseReader{}, dispatcher, true)

	detail, err := svc.ChangeStatus(context.Background(), adminClaims("adm1"), "i1", ChangeStatusRequest{Status: "resolved"})
	require.NoError(t, err)
	assert.Equal(t, models.IssueStatusResolved, detail.Status)
	require.Len(t, repo.notifications, 1)
	assert.Equal(t, "stu1", repo.notifications[0].UserID)
	assert.Contains(t, repo.notifications[0].Message, "Resolved")
	assert.Equal(t, []string{"stu1@example.ac.ug"}, dispatcher.emails)
}

func TestIssueServiceUpdateGradeRejectsMalformedGrade(t *testing.T) {
	repo := &mockIssueRepo{issues: map[string]models.IssueDetail{"i1": {Issue: models.Issue{ID: "i1", Title: "Missing mark", StudentID: "stu1"}}}}
	svc := newIssueService(repo, &mockUserReader{}, &mockCourseReader{}, &mockDispatcher{}, false)

	_, err := svc.UpdateGrade(context.Background(), adminClaims("adm1"), "i1", UpdateGradeRequest{NewGrade: "eighty"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidGradeFormat.Code, appErrors.FromError(err).Code)
	assert.Empty(t, repo.audits)
	assert.Empty(t, repo.notifications)
}

func TestIssueServiceUpdateGradeRecordsAuditAndNotifies(t *testing.T) {
	repo := &mockIssueRepo{issues: map[string]models.IssueDetail{"i1": {Issue: models.Issue{ID: "i1", Title: "Missing mark", StudentID: "stu1"}, CourseCode: "CS101"}}}
	dispatcher := &mockDispatcher{}
	svc := newIssueService(repo, &mockUserReader{}, &mockCourseReader{}, dispatcher, false)

	detail, err := svc.UpdateGrade(context.Background(), adminClaims("adm1"), "i1", UpdateGradeRequest{NewGrade: "85.5"})
	require.NoError(t, err)
	require.NotNil(t, detail.CurrentGrade)
	assert.Equal(t, 85.5, *detail.CurrentGrade)
	assert.Contains(t, repo.audits, models.AuditActionGradeUpdated)
	require.Len(t, repo.notifications, 1)
	assert.Equal(t, "Grade Updated", repo.notifications[0].Title)
}

func TestIssueServiceUpdateGradeScopedByVisibilityNotRole(t *testing.T) {
	repo := &mockIssueRepo{issues: map[string]models.IssueDetail{"i1": {Issue: models.Issue{ID: "i1", Title: "Missing mark", StudentID: "stu1"}, CourseCode: "CS101"}}}
	svc := newIssueService(repo, &mockUserReader{}, &mockCourseReader{}, &mockDispatcher{}, false)

	// the reporting student may correct the grade on their own issue
	detail, err := svc.UpdateGrade(context.Background(), studentClaims("stu1", "Alice Okello"), "i1", UpdateGradeRequest{NewGrade: "72"})
	require.NoError(t, err)
	require.NotNil(t, detail.CurrentGrade)
	assert.Equal(t, 72.0, *detail.CurrentGrade)

	// a student who cannot view the issue may not
	_, err = svc.UpdateGrade(context.Background(), studentClaims("stu2", "Bob Mukasa"), "i1", UpdateGradeRequest{NewGrade: "90"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestIssueServiceCommentFanOutDeduplicates(t *testing.T) {
	lecturerID := "lect1"
	repo := &mockIssueRepo{issues: map[string]models.IssueDetail{"i1": {
		Issue:            models.Issue{ID: "i1", Title: "Missing mark", StudentID: "stu1", AssignedTo: &lecturerID},
		CourseCode:       "CS101",
		CourseLecturerID: &lecturerID,
	}}}
	svc := newIssueService(repo, &mockUserReader{}, &mockCourseReader{}, &mockDispatcher{}, false)

	_, err := svc.AddComment(context.Background(), adminClaims("adm1"), "i1", AddCommentRequest{Content: "Looking into it"})
	require.NoError(t, err)

	// lect1 is both assignee and course lecturer and gets a single notification
	require.Len(t, repo.notifications, 2)
	recipients := map[string]int{}
	for _, n := range repo.notifications {
		recipients[n.UserID]++
	}
	assert.Equal(t, 1, recipients["stu1"])
	assert.Equal(t, 1, recipients["lect1"])
}

func TestIssueServiceCommentAuthorNotNotified(t *testing.T) {
	repo := &mockIssueRepo{issues: map[string]models.IssueDetail{"i1": {Issue: models.Issue{ID: "i1", Title: "Missing mark", StudentID: "stu1"}}}}
	svc := newIssueService(repo, &mockUserReader{}, &mockCourseReader{}, &mockDispatcher{}, false)

	_, err := svc.AddComment(context.Background(), studentClaims("stu1", "Alice Okello"), "i1", AddCommentRequest{Content: "Any update?"})
	require.NoError(t, err)
	assert.Empty(t, repo.notifications)
	require.Len(t, repo.comments, 1)
	assert.Equal(t, "stu1", repo.comments[0].AuthorID)
}

func TestIssueServiceGetEnforcesVisibility(t *testing.T) {
	repo := &mockIssueRepo{issues: map[string]models.IssueDetail{"i1": {Issue: models.Issue{ID: "i1", StudentID: "stu1"}}}}
	svc := newIssueService(repo, &mockUserReader{}, &mockCourseReader{}, &mockDispatcher{}, false)

	_, err := svc.Get(context.Background(), studentClaims("stu2", "Bob"), "i1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	detail, err := svc.Get(context.Background(), studentClaims("stu1", "Alice"), "i1")
	require.NoError(t, err)
	assert.Equal(t, "i1", detail.ID)
}
