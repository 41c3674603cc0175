package service

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/makerere-aits/aits-api/internal/models"
)

func TestAccessPolicyCanCreateIssue(t *testing.T) {
	policy := NewAccessPolicy()

	assert.True(t, policy.CanCreateIssue(&models.JWTClaims{UserID: "stu1", Role: models.RoleStudent}))
	assert.False(t, policy.CanCreateIssue(&models.JWTClaims{UserID: "lect1", Role: models.RoleLecturer}))
	assert.False(t, policy.CanCreateIssue(&models.JWTClaims{UserID: "adm1", Role: models.RoleAdmin}))
	assert.False(t, policy.CanCreateIssue(nil))
}

func TestAccessPolicyCanViewIssue(t *testing.T) {
	policy := NewAccessPolicy()
	lecturerID := "lect1"
	assigneeID := "lect2"
	issue := &models.IssueDetail{
		Issue:            models.Issue{ID: "i1", StudentID: "stu1", AssignedTo: &assigneeID},
		CourseLecturerID: &lecturerID,
	}

	assert.True(t, policy.CanViewIssue(&models.JWTClaims{UserID: "adm1", Role: models.RoleAdmin}, issue))
	assert.True(t, policy.CanViewIssue(&models.JWTClaims{UserID: "stu1", Role: models.RoleStudent}, issue))
	assert.False(t, policy.CanViewIssue(&models.JWTClaims{UserID: "stu2", Role: models.RoleStudent}, issue))
	assert.True(t, policy.CanViewIssue(&models.JWTClaims{UserID: "lect1", Role: models.RoleLecturer}, issue))
	assert.True(t, policy.CanViewIssue(&models.JWTClaims{UserID: "lect2", Role: models.RoleLecturer}, issue))
	assert.False(t, policy.CanViewIssue(&models.JWTClaims{UserID: "lect3", Role: models.RoleLecturer}, issue))
}

func TestAccessPolicyScopeIssueFilterOverridesCallerScope(t *testing.T) {
	policy := NewAccessPolicy()

	filter := policy.ScopeIssueFilter(&models.JWTClaims{UserID: "stu1", Role: models.RoleStudent}, models.IssueFilter{ViewerStudentID: "stu9"})
	assert.Equal(t, "stu1", filter.ViewerStudentID)
	assert.Empty(t, filter.ViewerLecturerID)

	filter = policy.ScopeIssueFilter(&models.JWTClaims{UserID: "lect1", Role: models.RoleLecturer}, models.IssueFilter{})
	assert.Equal(t, "lect1", filter.ViewerLecturerID)

	filter = policy.ScopeIssueFilter(&models.JWTClaims{UserID: "adm1", Role: models.RoleAdmin}, models.IssueFilter{})
	assert.Empty(t, filter.ViewerStudentID)
	assert.Empty(t, filter.ViewerLecturerID)
}

func TestAccessPolicyScopeEnrollmentFilter(t *testing.T) {
	policy := NewAccessPolicy()

	filter := policy.ScopeEnrollmentFilter(&models.JWTClaims{UserID: "stu1", Role: models.RoleStudent}, models.EnrollmentFilter{StudentID: "stu9", LecturerID: "lect9"})
	assert.Equal(t, "stu1", filter.StudentID)
	assert.Empty(t, filter.LecturerID)

	filter = policy.ScopeEnrollmentFilter(&models.JWTClaims{UserID: "lect1", Role: models.RoleLecturer}, models.EnrollmentFilter{})
	assert.Equal(t, "lect1", filter.LecturerID)
}
