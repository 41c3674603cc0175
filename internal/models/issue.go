package models

import "time"

// IssueStatus represents the lifecycle state of an issue.
type IssueStatus string

// Recognized issue statuses. Transitions are caller-driven: any recognized
// status may follow any other. resolved_at is set on entering resolved and is
// never cleared afterwards.
const (
	IssueStatusPending    IssueStatus = "pending"
	IssueStatusInProgress IssueStatus = "in_progress"
	IssueStatusResolved   IssueStatus = "resolved"
	IssueStatusRejected   IssueStatus = "rejected"
)

// Valid reports whether the status is one of the recognized values.
func (s IssueStatus) Valid() bool {
	switch s {
	case IssueStatusPending, IssueStatusInProgress, IssueStatusResolved, IssueStatusRejected:
		return true
	}
	return false
}

// Display returns the human-readable label used in notifications.
func (s IssueStatus) Display() string {
	switch s {
	case IssueStatusPending:
		return "Pending Review"
	case IssueStatusInProgress:
		return "In Progress"
	case IssueStatusResolved:
		return "Resolved"
	case IssueStatusRejected:
		return "Rejected"
	}
	return string(s)
}

// IssuePriority orders issues for triage.
type IssuePriority string

const (
	IssuePriorityLow    IssuePriority = "low"
	IssuePriorityMedium IssuePriority = "medium"
	IssuePriorityHigh   IssuePriority = "high"
	IssuePriorityUrgent IssuePriority = "urgent"
)

// Valid reports whether the priority is one of the recognized values.
func (p IssuePriority) Valid() bool {
	switch p {
	case IssuePriorityLow, IssuePriorityMedium, IssuePriorityHigh, IssuePriorityUrgent:
		return true
	}
	return false
}

// Issue is the central aggregate: a reported academic discrepancy tracked
// through its lifecycle.
type Issue struct {
	ID            string        `db:"id" json:"id"`
	Title         string        `db:"title" json:"title"`
	Description   string        `db:"description" json:"description"`
	CategoryID    string        `db:"category_id" json:"category_id"`
	StudentID     string        `db:"student_id" json:"student_id"`
	CourseID      string        `db:"course_id" json:"course_id"`
	EnrollmentID  *string       `db:"enrollment_id" json:"enrollment_id,omitempty"`
	CurrentGrade  *float64      `db:"current_grade" json:"current_grade,omitempty"`
	ExpectedGrade *float64      `db:"expected_grade" json:"expected_grade,omitempty"`
	Status        IssueStatus   `db:"status" json:"status"`
	Priority      IssuePriority `db:"priority" json:"priority"`
	AssignedTo    *string       `db:"assigned_to" json:"assigned_to,omitempty"`
	Attachment    *string       `db:"attachment" json:"attachment,omitempty"`
	CreatedAt     time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time     `db:"updated_at" json:"updated_at"`
	ResolvedAt    *time.Time    `db:"resolved_at" json:"resolved_at,omitempty"`
}

// IssueDetail enriches Issue with contextual display fields.
type IssueDetail struct {
	Issue
	StudentName      string  `db:"student_name" json:"student_name"`
	CourseCode       string  `db:"course_code" json:"course_code"`
	CourseName       string  `db:"course_name" json:"course_name"`
	CourseLecturerID *string `db:"course_lecturer_id" json:"course_lecturer_id,omitempty"`
	CategoryName     string  `db:"category_name" json:"category_name"`
	AssigneeName     *string `db:"assignee_name" json:"assignee_name,omitempty"`
}

// IssueFilter provides filters for listing issues.
type IssueFilter struct {
	StudentID  string
	CourseID   string
	CategoryID string
	AssignedTo string
	Status     IssueStatus
	Priority   IssuePriority
	Search     string
	Page       int
	PageSize   int
	SortBy     string
	SortOrder  string

	// Visibility scoping applied by the access policy, not caller-supplied.
	ViewerStudentID  string
	ViewerLecturerID string
}
