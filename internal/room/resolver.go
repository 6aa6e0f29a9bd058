package room

import (
	"context"
	"errors"
	"fmt"

	"campuswire/pkg/interfaces"
	"campuswire/pkg/types"
)

// ThreadDirectory confirms forum threads exist
type ThreadDirectory interface {
	ThreadExists(ctx context.Context, threadID string) (bool, error)
}

// Resolver authorizes a requested room for an identity and computes its
// name. It performs no joins.
type Resolver struct {
	courses     interfaces.CourseDirectory
	enrollments interfaces.EnrollmentChecker
	threads     ThreadDirectory
}

// NewResolver creates a resolver. threads may be nil, in which case any
// well-formed thread id resolves.
func NewResolver(courses interfaces.CourseDirectory, enrollments interfaces.EnrollmentChecker, threads ThreadDirectory) *Resolver {
	return &Resolver{
		courses:     courses,
		enrollments: enrollments,
		threads:     threads,
	}
}

// Resolve authorizes identity for the room of roomType identified by key
func (r *Resolver) Resolve(ctx context.Context, roomType types.RoomType, key string, identity types.Identity) (types.Room, error) {
	if !identity.Authenticated || identity.ID == "" {
		return types.Room{}, ErrAuthenticationRequired
	}

	switch roomType {
	case types.RoomPrivate:
		return r.resolvePrivate(key, identity)
	case types.RoomCourse:
		return r.resolveCourse(ctx, key, identity)
	case types.RoomThread:
		return r.resolveThread(ctx, key)
	case types.RoomModeration:
		return r.resolveModeration(key, identity)
	default:
		return types.Room{}, fmt.Errorf("%w: unknown room type %q", ErrInvalidRoom, roomType)
	}
}

// ResolveName authorizes a full room name such as "thread:42" or
// "private:5:9". For private rooms the identity must be a participant.
func (r *Resolver) ResolveName(ctx context.Context, name string, identity types.Identity) (types.Room, error) {
	if !identity.Authenticated || identity.ID == "" {
		return types.Room{}, ErrAuthenticationRequired
	}

	parsed, err := types.ParseRoom(name)
	if err != nil {
		return types.Room{}, fmt.Errorf("%w: %v", ErrInvalidRoom, err)
	}

	switch parsed.Type {
	case types.RoomPrivate:
		a, b := parsed.Keys[0], parsed.Keys[1]
		switch identity.ID {
		case a:
			return r.resolvePrivate(b, identity)
		case b:
			return r.resolvePrivate(a, identity)
		default:
			return types.Room{}, ErrForbidden
		}
	case types.RoomModeration:
		return r.Resolve(ctx, parsed.Type, "", identity)
	default:
		return r.Resolve(ctx, parsed.Type, parsed.Keys[0], identity)
	}
}

func (r *Resolver) resolvePrivate(otherUserID string, identity types.Identity) (types.Room, error) {
	if !types.IsValidUserID(otherUserID) || !types.IsValidRoomKey(identity.ID) {
		return types.Room{}, fmt.Errorf("%w: malformed user id", ErrInvalidRoom)
	}
	if otherUserID == identity.ID {
		return types.Room{}, fmt.Errorf("%w: %v", ErrInvalidRoom, types.ErrSelfPrivateRoom)
	}
	return types.PrivateRoom(identity.ID, otherUserID), nil
}

// resolveCourse admits course staff and enrolled users
func (r *Resolver) resolveCourse(ctx context.Context, courseID string, identity types.Identity) (types.Room, error) {
	if !types.IsValidRoomKey(courseID) {
		return types.Room{}, fmt.Errorf("%w: malformed course id", ErrInvalidRoom)
	}

	course, err := r.courses.GetCourse(ctx, courseID)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return types.Room{}, ErrRoomNotFound
		}
		return types.Room{}, fmt.Errorf("%w: %v", ErrLookupFailed, err)
	}

	if course.HasStaff(identity.ID) {
		return types.CourseRoom(courseID), nil
	}

	enrolled, err := r.enrollments.IsEnrolled(ctx, identity.ID, courseID)
	if err != nil {
		return types.Room{}, fmt.Errorf("%w: %v", ErrLookupFailed, err)
	}
	if !enrolled {
		return types.Room{}, ErrForbidden
	}
	return types.CourseRoom(courseID), nil
}

// resolveThread is open to any authenticated user
func (r *Resolver) resolveThread(ctx context.Context, threadID string) (types.Room, error) {
	if !types.IsValidRoomKey(threadID) {
		return types.Room{}, fmt.Errorf("%w: malformed thread id", ErrInvalidRoom)
	}
	if r.threads != nil {
		exists, err := r.threads.ThreadExists(ctx, threadID)
		if err != nil {
			return types.Room{}, fmt.Errorf("%w: %v", ErrLookupFailed, err)
		}
		if !exists {
			return types.Room{}, ErrRoomNotFound
		}
	}
	return types.ThreadRoom(threadID), nil
}

func (r *Resolver) resolveModeration(key string, identity types.Identity) (types.Room, error) {
	if key != "" {
		return types.Room{}, fmt.Errorf("%w: moderation room takes no key", ErrInvalidRoom)
	}
	switch identity.Role {
	case types.RoleModerator, types.RoleTeacher, types.RoleSupervisor:
		return types.ModerationRoom(), nil
	default:
		return types.Room{}, ErrForbidden
	}
}
