package models

import "time"

// Enrollment captures a student's registration in a course for a term.
// The (student, course, semester, academic_year) tuple is unique.
type Enrollment struct {
	ID           string    `db:"id" json:"id"`
	StudentID    string    `db:"student_id" json:"student_id"`
	CourseID     string    `db:"course_id" json:"course_id"`
	Semester     string    `db:"semester" json:"semester"`
	AcademicYear string    `db:"academic_year" json:"academic_year"`
	CurrentGrade *float64  `db:"current_grade" json:"current_grade,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// EnrollmentDetail enriches Enrollment with student and course info.
type EnrollmentDetail struct {
	Enrollment
	StudentName string `db:"student_name" json:"student_name"`
	CourseCode  string `db:"course_code" json:"course_code"`
	CourseName  string `db:"course_name" json:"course_name"`
}

// EnrollmentFilter provides filters for listing enrollments.
type EnrollmentFilter struct {
	StudentID    string
	CourseID     string
	LecturerID   string
	Semester     string
	AcademicYear string
	Page         int
	PageSize     int
	SortBy       string
	SortOrder    string
}
