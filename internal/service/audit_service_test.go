package service

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/makerere-aits/aits-api/internal/models"
	appErrors "github.com/makerere-aits/aits-api/pkg/errors"
)

type mockAuditReader struct {
	entries map[string][]models.AuditLogDetail
}

func (m *mockAuditReader) ListForIssue(ctx context.Context, issueID string) ([]models.AuditLogDetail, error) {
	return m.entries[issueID], nil
}

type mockAuditIssueReader struct {
	issues map[string]*models.IssueDetail
}

func (m *mockAuditIssueReader) FindDetailByID(ctx context.Context, id string) (*models.IssueDetail, error) {
	if issue, ok := m.issues[id]; ok {
		return issue, nil
	}
	return nil, sql.ErrNoRows
}

func newAuditService(entries map[string][]models.AuditLogDetail, issues map[string]*models.IssueDetail) *AuditService {
	return NewAuditService(&mockAuditReader{entries: entries}, &mockAuditIssueReader{issues: issues}, NewAccessPolicy(), zap.NewNop())
}

func auditEntry(action, oldValue, newValue, actor string, at time.Time) models.AuditLogDetail {
	return models.AuditLogDetail{
		AuditLogEntry: models.AuditLogEntry{
			ID: "a1", IssueID: "i1", Action: action, OldValue: oldValue, NewValue: newValue, CreatedAt: at,
		},
		ActorName: actor,
	}
}

func TestAuditServiceExportCSVColumnsFollowHeaders(t *testing.T) {
	at := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	svc := newAuditService(
		map[string][]models.AuditLogDetail{"i1": {
			auditEntry(models.AuditActionIssueAssigned, models.AuditValueNone, "Dr. Okot", "Registrar", at),
		}},
		map[string]*models.IssueDetail{"i1": {Issue: models.Issue{ID: "i1", StudentID: "stu1"}}},
	)

	payload, contentType, err := svc.ExportForIssue(context.Background(), adminClaims("adm1"), "i1", "csv")
	require.NoError(t, err)
	assert.Equal(t, "text/csv", contentType)

	lines := strings.Split(strings.TrimSpace(string(payload)), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "Timestamp,Actor,Action,Old Value,New Value", strings.TrimSpace(lines[0]))
	assert.Equal(t, "2026-03-14T09:30:00Z,Registrar,Issue assigned,None,Dr. Okot", strings.TrimSpace(lines[1]))
}

func TestAuditServiceExportPDF(t *testing.T) {
	svc := newAuditService(
		map[string][]models.AuditLogDetail{"i1": {
			auditEntry(models.AuditActionStatusChanged, "Pending Review", "Resolved", "Dr. Okot", time.Now().UTC()),
		}},
		map[string]*models.IssueDetail{"i1": {Issue: models.Issue{ID: "i1", StudentID: "stu1"}}},
	)

	payload, contentType, err := svc.ExportForIssue(context.Background(), adminClaims("adm1"), "i1", "pdf")
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", contentType)
	assert.True(t, strings.HasPrefix(string(payload), "%PDF"))
}

func TestAuditServiceExportRejectsUnknownFormat(t *testing.T) {
	svc := newAuditService(
		map[string][]models.AuditLogDetail{},
		map[string]*models.IssueDetail{"i1": {Issue: models.Issue{ID: "i1", StudentID: "stu1"}}},
	)

	_, _, err := svc.ExportForIssue(context.Background(), adminClaims("adm1"), "i1", "xlsx")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestAuditServiceListEnforcesVisibility(t *testing.T) {
	svc := newAuditService(
		map[string][]models.AuditLogDetail{"i1": {
			auditEntry(models.AuditActionGradeUpdated, "60", "70", "Dr. Okot", time.Now().UTC()),
		}},
		map[string]*models.IssueDetail{"i1": {Issue: models.Issue{ID: "i1", StudentID: "stu1"}}},
	)

	_, err := svc.ListForIssue(context.Background(), studentClaims("stu2", "Bob Mukasa"), "i1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	entries, err := svc.ListForIssue(context.Background(), studentClaims("stu1", "Alice Okello"), "i1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.AuditActionGradeUpdated, entries[0].Action)
}
