package directory

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"campuswire/pkg/interfaces"
	"campuswire/pkg/types"
)

// Collections read by the directory
const (
	CollectionCourses     = "courses"
	CollectionEnrollments = "enrollments"
	CollectionUsers       = "users"
	CollectionThreads     = "threads"
)

// Directory answers course, enrollment, user and thread lookups from the
// document store. It implements interfaces.CourseDirectory,
// interfaces.EnrollmentChecker, interfaces.UserDirectory and
// room.ThreadDirectory.
type Directory struct {
	store  interfaces.DocumentStore
	logger *zap.Logger
}

// New creates a directory over store
func New(store interfaces.DocumentStore, logger *zap.Logger) *Directory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Directory{
		store:  store,
		logger: logger.With(zap.String("component", "directory")),
	}
}

// GetCourse returns interfaces.ErrNotFound for unknown courses
func (d *Directory) GetCourse(ctx context.Context, courseID string) (*types.Course, error) {
	doc, err := d.store.Get(ctx, CollectionCourses, courseID)
	if err != nil {
		return nil, err
	}
	return &types.Course{
		ID:           doc.ID,
		Title:        doc.String("title"),
		InstructorID: doc.String("instructor_id"),
		StaffIDs:     doc.Strings("staff_ids"),
	}, nil
}

func (d *Directory) IsEnrolled(ctx context.Context, userID, courseID string) (bool, error) {
	q := types.NewQuery(CollectionEnrollments).
		Where("user_id", types.OpEqual, userID).
		Where("course_id", types.OpEqual, courseID).
		Limit(1)
	docs, err := d.store.Query(ctx, q)
	if err != nil {
		return false, fmt.Errorf("enrollment lookup: %w", err)
	}
	return len(docs) > 0, nil
}

// GetUsername returns interfaces.ErrNotFound when the user has no profile
func (d *Directory) GetUsername(ctx context.Context, userID string) (string, error) {
	doc, err := d.store.Get(ctx, CollectionUsers, userID)
	if err != nil {
		return "", err
	}
	name := doc.String("username")
	if name == "" {
		return "", interfaces.ErrNotFound
	}
	return name, nil
}

func (d *Directory) ThreadExists(ctx context.Context, threadID string) (bool, error) {
	_, err := d.store.Get(ctx, CollectionThreads, threadID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, interfaces.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

// IsCourseMember reports whether userID is staff of or enrolled in courseID
func (d *Directory) IsCourseMember(ctx context.Context, userID, courseID string) (bool, error) {
	course, err := d.GetCourse(ctx, courseID)
	if err != nil {
		return false, err
	}
	if course.HasStaff(userID) {
		return true, nil
	}
	return d.IsEnrolled(ctx, userID, courseID)
}

// PutCourse creates or replaces a course
func (d *Directory) PutCourse(ctx context.Context, course *types.Course) error {
	if !types.IsValidRoomKey(course.ID) {
		return fmt.Errorf("%w: %q", types.ErrInvalidRoomKey, course.ID)
	}
	staff := course.StaffIDs
	if staff == nil {
		staff = []string{}
	}
	return d.store.Set(ctx, CollectionCourses, course.ID, map[string]interface{}{
		"title":         course.Title,
		"instructor_id": course.InstructorID,
		"staff_ids":     staff,
	})
}

// Enroll records userID as a member of courseID. Enrolling twice is a no-op.
func (d *Directory) Enroll(ctx context.Context, userID, courseID string) error {
	if !types.IsValidUserID(userID) {
		return types.ErrInvalidUserID
	}
	if !types.IsValidRoomKey(courseID) {
		return fmt.Errorf("%w: %q", types.ErrInvalidRoomKey, courseID)
	}
	return d.store.Set(ctx, CollectionEnrollments, enrollmentID(userID, courseID), map[string]interface{}{
		"user_id":   userID,
		"course_id": courseID,
	})
}

// enrollmentID joins the ids with ':', which neither id may contain
func enrollmentID(userID, courseID string) string {
	return courseID + ":" + userID
}

// PutUser creates or replaces a user profile
func (d *Directory) PutUser(ctx context.Context, identity types.Identity) error {
	if !types.IsValidUserID(identity.ID) {
		return types.ErrInvalidUserID
	}
	return d.store.Set(ctx, CollectionUsers, identity.ID, map[string]interface{}{
		"username": identity.Username,
		"role":     identity.Role,
	})
}
