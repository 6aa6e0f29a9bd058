package forum

import (
	"time"

	"campuswire/pkg/types"
)

// Collections written by the forum service
const (
	CollectionThreads     = "threads"
	CollectionPosts       = "posts"
	CollectionComments    = "comments"
	CollectionModerations = "moderation_actions"
)

type Thread struct {
	ID         string    `json:"id"`
	CourseID   string    `json:"course_id"`
	Title      string    `json:"title"`
	Body       string    `json:"body"`
	AuthorID   string    `json:"author_id"`
	AuthorName string    `json:"author_name"`
	Closed     bool      `json:"is_closed"`
	Pinned     bool      `json:"is_pinned"`
	Solved     bool      `json:"is_solved"`
	Version    int64     `json:"version"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type Post struct {
	ID         string    `json:"id"`
	ThreadID   string    `json:"thread_id"`
	AuthorID   string    `json:"author_id"`
	AuthorName string    `json:"author_name"`
	Content    string    `json:"content"`
	Hidden     bool      `json:"is_hidden"`
	CreatedAt  time.Time `json:"created_at"`
}

type Comment struct {
	ID         string    `json:"id"`
	PostID     string    `json:"post_id"`
	ThreadID   string    `json:"thread_id"`
	AuthorID   string    `json:"author_id"`
	AuthorName string    `json:"author_name"`
	Content    string    `json:"content"`
	Hidden     bool      `json:"is_hidden"`
	CreatedAt  time.Time `json:"created_at"`
}

// ModerationAction records one moderator decision
type ModerationAction struct {
	ID          string    `json:"id"`
	TargetType  string    `json:"target_type"`
	TargetID    string    `json:"target_id"`
	ThreadID    string    `json:"thread_id,omitempty"`
	Action      string    `json:"action"`
	Reason      string    `json:"reason,omitempty"`
	ModeratorID string    `json:"moderator_id"`
	CreatedAt   time.Time `json:"created_at"`
}

func threadFromDocument(doc *types.Document) *Thread {
	return &Thread{
		ID:         doc.ID,
		CourseID:   doc.String("course_id"),
		Title:      doc.String("title"),
		Body:       doc.String("body"),
		AuthorID:   doc.String("author_id"),
		AuthorName: doc.String("author_name"),
		Closed:     doc.Bool("closed"),
		Pinned:     doc.Bool("pinned"),
		Solved:     doc.Bool("solved"),
		Version:    doc.Version,
		CreatedAt:  doc.CreatedAt,
		UpdatedAt:  doc.UpdatedAt,
	}
}

func postFromDocument(doc *types.Document) *Post {
	return &Post{
		ID:         doc.ID,
		ThreadID:   doc.String("thread_id"),
		AuthorID:   doc.String("author_id"),
		AuthorName: doc.String("author_name"),
		Content:    doc.String("content"),
		Hidden:     doc.Bool("hidden"),
		CreatedAt:  doc.CreatedAt,
	}
}

func commentFromDocument(doc *types.Document) *Comment {
	return &Comment{
		ID:         doc.ID,
		PostID:     doc.String("post_id"),
		ThreadID:   doc.String("thread_id"),
		AuthorID:   doc.String("author_id"),
		AuthorName: doc.String("author_name"),
		Content:    doc.String("content"),
		Hidden:     doc.Bool("hidden"),
		CreatedAt:  doc.CreatedAt,
	}
}
