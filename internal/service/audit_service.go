package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/makerere-aits/aits-api/internal/models"
	appErrors "github.com/makerere-aits/aits-api/pkg/errors"
	"github.com/makerere-aits/aits-api/pkg/export"
)

type auditRepository interface {
	ListForIssue(ctx context.Context, issueID string) ([]models.AuditLogDetail, error)
}

type auditIssueReader interface {
	FindDetailByID(ctx context.Context, id string) (*models.IssueDetail, error)
}

// AuditService reads the per-issue change ledger. Entries are append-only and
// ordered oldest first; this service never writes them.
type AuditService struct {
	repo   auditRepository
	issues auditIssueReader
	policy *AccessPolicy
	csv    *export.CSVExporter
	pdf    *export.PDFExporter
	logger *zap.Logger
}

// NewAuditService constructs an audit service.
func NewAuditService(repo auditRepository, issues auditIssueReader, policy *AccessPolicy, logger *zap.Logger) *AuditService {
	if policy == nil {
		policy = NewAccessPolicy()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditService{
		repo:   repo,
		issues: issues,
		policy: policy,
		csv:    export.NewCSVExporter(),
		pdf:    export.NewPDFExporter(),
		logger: logger,
	}
}

// ListForIssue returns an issue's audit trail, enforcing issue visibility.
func (s *AuditService) ListForIssue(ctx context.Context, principal *models.JWTClaims, issueID string) ([]models.AuditLogDetail, error) {
	if err := s.authorize(ctx, principal, issueID); err != nil {
		return nil, err
	}
	entries, err := s.repo.ListForIssue(ctx, issueID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list audit entries")
	}
	return entries, nil
}

// ExportForIssue renders the audit trail as a downloadable document in the
// requested format, either "csv" or "pdf".
func (s *AuditService) ExportForIssue(ctx context.Context, principal *models.JWTClaims, issueID, format string) ([]byte, string, error) {
	entries, err := s.ListForIssue(ctx, principal, issueID)
	if err != nil {
		return nil, "", err
	}

	dataset := export.Dataset{
		Headers: []string{"Timestamp", "Actor", "Action", "Old Value", "New Value"},
	}
	for _, e := range entries {
		dataset.Rows = append(dataset.Rows, map[string]string{
			"Timestamp": e.CreatedAt.Format(time.RFC3339),
			"Actor":     e.ActorName,
			"Action":    e.Action,
			"Old Value": e.OldValue,
			"New Value": e.NewValue,
		})
	}

	switch format {
	case "csv":
		payload, err := s.csv.Render(dataset)
		if err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv export")
		}
		return payload, "text/csv", nil
	case "pdf":
		payload, err := s.pdf.Render(dataset, fmt.Sprintf("Audit Trail - Issue %s", issueID))
		if err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf export")
		}
		return payload, "application/pdf", nil
	default:
		return nil, "", appErrors.Clone(appErrors.ErrValidation, "unsupported export format")
	}
}

func (s *AuditService) authorize(ctx context.Context, principal *models.JWTClaims, issueID string) error {
	issue, err := s.issues.FindDetailByID(ctx, issueID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "issue not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load issue")
	}
	if !s.policy.CanViewIssue(principal, issue) {
		return appErrors.ErrForbidden
	}
	return nil
}
