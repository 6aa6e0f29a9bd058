package interfaces

import (
	"context"

	"campuswire/pkg/types"
)

// CourseDirectory resolves course ids. Returns ErrNotFound for unknown courses.
type CourseDirectory interface {
	GetCourse(ctx context.Context, courseID string) (*types.Course, error)
}

// EnrollmentChecker answers whether a user belongs to a course
type EnrollmentChecker interface {
	IsEnrolled(ctx context.Context, userID, courseID string) (bool, error)
}

// UserDirectory resolves display names for user ids
type UserDirectory interface {
	GetUsername(ctx context.Context, userID string) (string, error)
}
