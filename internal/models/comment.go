package models

import "time"

// Comment is an immutable message attached to exactly one issue.
type Comment struct {
	ID         string    `db:"id" json:"id"`
	IssueID    string    `db:"issue_id" json:"issue_id"`
	AuthorID   string    `db:"author_id" json:"author_id"`
	Content    string    `db:"content" json:"content"`
	Attachment *string   `db:"attachment" json:"attachment,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// CommentDetail enriches Comment with the author's display name.
type CommentDetail struct {
	Comment
	AuthorName string   `db:"author_name" json:"author_name"`
	AuthorRole UserRole `db:"author_role" json:"author_role"`
}
