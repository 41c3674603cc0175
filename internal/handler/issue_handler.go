package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/makerere-aits/aits-api/internal/models"
	"github.com/makerere-aits/aits-api/internal/service"
	appErrors "github.com/makerere-aits/aits-api/pkg/errors"
	"github.com/makerere-aits/aits-api/pkg/response"
)

// IssueHandler exposes the issue lifecycle endpoints.
type IssueHandler struct {
	issues      *service.IssueService
	audits      *service.AuditService
	attachments *service.AttachmentService
}

// NewIssueHandler constructs IssueHandler.
func NewIssueHandler(issues *service.IssueService, audits *service.AuditService, attachments *service.AttachmentService) *IssueHandler {
	return &IssueHandler{issues: issues, audits: audits, attachments: attachments}
}

// List godoc
// @Summary List issues visible to the caller
// @Tags Issues
// @Produce json
// @Param status query string false "Filter by status"
// @Param priority query string false "Filter by priority"
// @Param studentId query string false "Filter by reporting student"
// @Param courseId query string false "Filter by course"
// @Param categoryId query string false "Filter by category"
// @Param search query string false "Search title and description"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /issues [get]
func (h *IssueHandler) List(c *gin.Context) {
	var filter models.IssueFilter
	filter.Status = models.IssueStatus(c.Query("status"))
	filter.Priority = models.IssuePriority(c.Query("priority"))
	filter.StudentID = c.Query("studentId")
	filter.CourseID = c.Query("courseId")
	filter.CategoryID = c.Query("categoryId")
	filter.AssignedTo = c.Query("assignedTo")
	filter.Search = strings.TrimSpace(c.Query("search"))
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}
	filter.SortBy = c.Query("sort")
	filter.SortOrder = c.Query("order")

	issues, pagination, err := h.issues.List(c.Request.Context(), currentUser(c), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, issues, pagination)
}

// Get godoc
// @Summary Get issue detail
// @Tags Issues
// @Produce json
// @Param id path string true "Issue ID"
// @Success 200 {object} response.Envelope
// @Router /issues/{id} [get]
func (h *IssueHandler) Get(c *gin.Context) {
	issue, err := h.issues.Get(c.Request.Context(), currentUser(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, issue, nil)
}

// Create godoc
// @Summary Report a new issue
// @Tags Issues
// @Accept json
// @Produce json
// @Param payload body service.CreateIssueRequest true "Issue payload"
// @Success 201 {object} response.Envelope
// @Router /issues [post]
func (h *IssueHandler) Create(c *gin.Context) {
	var req service.CreateIssueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	issue, err := h.issues.Create(c.Request.Context(), currentUser(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, issue)
}

// Assign godoc
// @Summary Assign an issue to a lecturer or admin
// @Tags Issues
// @Accept json
// @Produce json
// @Param id path string true "Issue ID"
// @Param payload body service.AssignIssueRequest true "Assignee"
// @Success 200 {object} response.Envelope
// @Router /issues/{id}/assign [post]
func (h *IssueHandler) Assign(c *gin.Context) {
	var req service.AssignIssueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	issue, err := h.issues.Assign(c.Request.Context(), currentUser(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, issue, nil)
}

// ChangeStatus godoc
// @Summary Change an issue's status
// @Tags Issues
// @Accept json
// @Produce json
// @Param id path string true "Issue ID"
// @Param payload body service.ChangeStatusRequest true "Target status"
// @Success 200 {object} response.Envelope
// @Router /issues/{id}/status [post]
func (h *IssueHandler) ChangeStatus(c *gin.Context) {
	var req service.ChangeStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	issue, err := h.issues.ChangeStatus(c.Request.Context(), currentUser(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, issue, nil)
}

// UpdateGrade godoc
// @Summary Correct the grade recorded on an issue
// @Tags Issues
// @Accept json
// @Produce json
// @Param id path string true "Issue ID"
// @Param payload body service.UpdateGradeRequest true "New grade"
// @Success 200 {object} response.Envelope
// @Router /issues/{id}/grade [post]
func (h *IssueHandler) UpdateGrade(c *gin.Context) {
	var req service.UpdateGradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	issue, err := h.issues.UpdateGrade(c.Request.Context(), currentUser(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, issue, nil)
}

// ListComments godoc
// @Summary List an issue's comments
// @Tags Issues
// @Produce json
// @Param id path string true "Issue ID"
// @Success 200 {object} response.Envelope
// @Router /issues/{id}/comments [get]
func (h *IssueHandler) ListComments(c *gin.Context) {
	comments, err := h.issues.ListComments(c.Request.Context(), currentUser(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, comments, nil)
}

// AddComment godoc
// @Summary Comment on an issue
// @Tags Issues
// @Accept json
// @Produce json
// @Param id path string true "Issue ID"
// @Param payload body service.AddCommentRequest true "Comment payload"
// @Success 201 {object} response.Envelope
// @Router /issues/{id}/comments [post]
func (h *IssueHandler) AddComment(c *gin.Context) {
	var req service.AddCommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	comment, err := h.issues.AddComment(c.Request.Context(), currentUser(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, comment)
}

// AuditTrail godoc
// @Summary Read an issue's audit trail
// @Tags Issues
// @Produce json
// @Param id path string true "Issue ID"
// @Success 200 {object} response.Envelope
// @Router /issues/{id}/audit [get]
func (h *IssueHandler) AuditTrail(c *gin.Context) {
	entries, err := h.audits.ListForIssue(c.Request.Context(), currentUser(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries, nil)
}

// ExportAuditTrail godoc
// @Summary Export an issue's audit trail
// @Tags Issues
// @Produce octet-stream
// @Param id path string true "Issue ID"
// @Param format query string false "csv or pdf" default(csv)
// @Success 200
// @Router /issues/{id}/audit/export [get]
func (h *IssueHandler) ExportAuditTrail(c *gin.Context) {
	format := c.DefaultQuery("format", "csv")
	payload, contentType, err := h.audits.ExportForIssue(c.Request.Context(), currentUser(c), c.Param("id"), format)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="audit-trail.`+format+`"`)
	c.Data(http.StatusOK, contentType, payload)
}

// UploadAttachment godoc
// @Summary Attach a file to an issue
// @Tags Issues
// @Accept mpfd
// @Produce json
// @Param id path string true "Issue ID"
// @Param file formData file true "Attachment"
// @Success 201 {object} response.Envelope
// @Router /issues/{id}/attachment [post]
func (h *IssueHandler) UploadAttachment(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "missing file"))
		return
	}
	f, err := fileHeader.Open()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, http.StatusInternalServerError, "failed to read upload"))
		return
	}
	defer f.Close()

	ref, err := h.attachments.Upload(c.Request.Context(), currentUser(c), c.Param("id"), fileHeader.Filename, fileHeader.Size, f)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, gin.H{"attachment": ref})
}

// AttachmentToken godoc
// @Summary Issue a signed download token for an issue's attachment
// @Tags Issues
// @Produce json
// @Param id path string true "Issue ID"
// @Success 200 {object} response.Envelope
// @Router /issues/{id}/attachment/token [get]
func (h *IssueHandler) AttachmentToken(c *gin.Context) {
	token, expiresAt, err := h.attachments.DownloadToken(c.Request.Context(), currentUser(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"token": token, "expires_at": expiresAt}, nil)
}

// DownloadAttachment godoc
// @Summary Download an attachment with a signed token
// @Tags Issues
// @Produce octet-stream
// @Param token query string true "Signed token"
// @Success 200
// @Router /attachments [get]
func (h *IssueHandler) DownloadAttachment(c *gin.Context) {
	f, name, err := h.attachments.Open(c.Query("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer f.Close()
	c.FileAttachment(f.Name(), name)
}
