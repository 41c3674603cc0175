package service

import (
	"github.com/makerere-aits/aits-api/internal/models"
)

// AccessPolicy is the single authorization gate consulted before every issue
// mutation and read. Authorization is ownership- and role-based: students see
// only their own issues, lecturers see issues on their courses or assigned to
// them, admins see everything.
type AccessPolicy struct{}

// NewAccessPolicy constructs the policy.
func NewAccessPolicy() *AccessPolicy {
	return &AccessPolicy{}
}

// CanCreateIssue reports whether the principal may report a new issue.
// Only students create issues; the issue's student field is always forced to
// the caller's identity.
func (p *AccessPolicy) CanCreateIssue(principal *models.JWTClaims) bool {
	return principal != nil && principal.Role == models.RoleStudent
}

// CanViewIssue reports whether the principal may view the given issue, and by
// extension comment on it, change its status, update its grade, and read its
// audit trail.
func (p *AccessPolicy) CanViewIssue(principal *models.JWTClaims, issue *models.IssueDetail) bool {
	if principal == nil || issue == nil {
		return false
	}
	switch principal.Role {
	case models.RoleAdmin:
		return true
	case models.RoleStudent:
		return issue.StudentID == principal.UserID
	case models.RoleLecturer:
		if issue.CourseLecturerID != nil && *issue.CourseLecturerID == principal.UserID {
			return true
		}
		return issue.AssignedTo != nil && *issue.AssignedTo == principal.UserID
	}
	return false
}

// ScopeIssueFilter narrows a listing filter to the rows the principal may see.
func (p *AccessPolicy) ScopeIssueFilter(principal *models.JWTClaims, filter models.IssueFilter) models.IssueFilter {
	filter.ViewerStudentID = ""
	filter.ViewerLecturerID = ""
	switch principal.Role {
	case models.RoleStudent:
		filter.ViewerStudentID = principal.UserID
	case models.RoleLecturer:
		filter.ViewerLecturerID = principal.UserID
	}
	return filter
}

// ScopeEnrollmentFilter narrows an enrollment listing to the principal's rows.
func (p *AccessPolicy) ScopeEnrollmentFilter(principal *models.JWTClaims, filter models.EnrollmentFilter) models.EnrollmentFilter {
	switch principal.Role {
	case models.RoleStudent:
		filter.StudentID = principal.UserID
		filter.LecturerID = ""
	case models.RoleLecturer:
		filter.LecturerID = principal.UserID
		filter.StudentID = ""
	}
	return filter
}
