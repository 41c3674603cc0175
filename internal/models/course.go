package models

import "time"

// Course represents an academic course offering.
type Course struct {
	ID          string    `db:"id" json:"id"`
	Code        string    `db:"code" json:"code"`
	Name        string    `db:"name" json:"name"`
	Description *string   `db:"description" json:"description,omitempty"`
	LecturerID  *string   `db:"lecturer_id" json:"lecturer_id,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// CourseDetail enriches Course with the owning lecturer's name.
type CourseDetail struct {
	Course
	LecturerName *string `db:"lecturer_name" json:"lecturer_name,omitempty"`
}

// CourseFilter provides filters for listing courses.
type CourseFilter struct {
	LecturerID string
	Search     string
	Page       int
	PageSize   int
	SortBy     string
	SortOrder  string
}
