package service

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/makerere-aits/aits-api/internal/models"
	appErrors "github.com/makerere-aits/aits-api/pkg/errors"
	"github.com/makerere-aits/aits-api/pkg/storage"
)

type attachmentIssueStore interface {
	FindDetailByID(ctx context.Context, id string) (*models.IssueDetail, error)
	UpdateAttachment(ctx context.Context, issueID, ref string) error
}

// AttachmentService stores issue attachments on local disk and hands out
// short-lived signed download tokens.
type AttachmentService struct {
	issues  attachmentIssueStore
	policy  *AccessPolicy
	store   *storage.LocalStorage
	signer  *storage.SignedURLSigner
	logger  *zap.Logger
	maxSize int64
}

// NewAttachmentService constructs an AttachmentService.
func NewAttachmentService(issues attachmentIssueStore, policy *AccessPolicy, store *storage.LocalStorage, signer *storage.SignedURLSigner, logger *zap.Logger, maxSize int64) *AttachmentService {
	if policy == nil {
		policy = NewAccessPolicy()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxSize <= 0 {
		maxSize = 10 << 20
	}
	return &AttachmentService{issues: issues, policy: policy, store: store, signer: signer, logger: logger, maxSize: maxSize}
}

// Upload saves an attachment for an issue the principal can view and records
// the storage reference on the issue.
func (s *AttachmentService) Upload(ctx context.Context, principal *models.JWTClaims, issueID, filename string, size int64, r io.Reader) (string, error) {
	issue, err := s.authorize(ctx, principal, issueID)
	if err != nil {
		return "", err
	}
	if size > s.maxSize {
		return "", appErrors.Clone(appErrors.ErrValidation, "attachment exceeds maximum size")
	}

	ref := filepath.Join("issues", issue.ID, uuid.NewString()+sanitizeExt(filename))
	if _, err := s.store.SaveStream(ref, io.LimitReader(r, s.maxSize+1)); err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store attachment")
	}
	if err := s.issues.UpdateAttachment(ctx, issue.ID, ref); err != nil {
		if cleanupErr := s.store.Delete(ref); cleanupErr != nil {
			s.logger.Warn("failed to remove orphaned attachment", zap.String("ref", ref), zap.Error(cleanupErr))
		}
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record attachment")
	}
	return ref, nil
}

// DownloadToken returns a signed token granting temporary access to the
// issue's attachment.
func (s *AttachmentService) DownloadToken(ctx context.Context, principal *models.JWTClaims, issueID string) (string, time.Time, error) {
	issue, err := s.authorize(ctx, principal, issueID)
	if err != nil {
		return "", time.Time{}, err
	}
	if issue.Attachment == nil || *issue.Attachment == "" {
		return "", time.Time{}, appErrors.Clone(appErrors.ErrNotFound, "issue has no attachment")
	}
	token, expiresAt, err := s.signer.Generate(principal.UserID, *issue.Attachment)
	if err != nil {
		return "", time.Time{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign download token")
	}
	return token, expiresAt, nil
}

// Open resolves a signed token and opens the underlying file.
func (s *AttachmentService) Open(token string) (*os.File, string, error) {
	_, relPath, _, err := s.signer.Parse(token)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid or expired download token")
	}
	f, err := s.store.Open(relPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", appErrors.Clone(appErrors.ErrNotFound, "attachment not found")
		}
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open attachment")
	}
	return f, filepath.Base(relPath), nil
}

func (s *AttachmentService) authorize(ctx context.Context, principal *models.JWTClaims, issueID string) (*models.IssueDetail, error) {
	issue, err := s.issues.FindDetailByID(ctx, issueID)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "issue not found")
	}
	if !s.policy.CanViewIssue(principal, issue) {
		return nil, appErrors.ErrForbidden
	}
	return issue, nil
}

func sanitizeExt(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if len(ext) > 10 {
		return ""
	}
	for _, r := range ext {
		if r != '.' && (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return ext
}
