package room

import (
	"context"
	"errors"
	"testing"

	"campuswire/pkg/interfaces"
	"campuswire/pkg/types"
)

// mockDirectory answers course, enrollment and thread lookups from maps
type mockDirectory struct {
	courses   map[string]*types.Course
	enrolled  map[string]bool // "user/course"
	threads   map[string]bool
	lookupErr error
}

func (m *mockDirectory) GetCourse(ctx context.Context, courseID string) (*types.Course, error) {
	if m.lookupErr != nil {
		return nil, m.lookupErr
	}
	c, ok := m.courses[courseID]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	return c, nil
}

func (m *mockDirectory) IsEnrolled(ctx context.Context, userID, courseID string) (bool, error) {
	return m.enrolled[userID+"/"+courseID], nil
}

func (m *mockDirectory) ThreadExists(ctx context.Context, threadID string) (bool, error) {
	return m.threads[threadID], nil
}

func newTestResolver() (*Resolver, *mockDirectory) {
	dir := &mockDirectory{
		courses: map[string]*types.Course{
			"7": {ID: "7", InstructorID: "100", StaffIDs: []string{"101"}},
		},
		enrolled: map[string]bool{"5/7": true},
		threads:  map[string]bool{"42": true, "43": true},
	}
	return NewResolver(dir, dir, dir), dir
}

func user(id, role string) types.Identity {
	return types.Identity{ID: id, Username: "user" + id, Role: role, Authenticated: true}
}

func TestResolve_PrivateIsSymmetric(t *testing.T) {
	r, _ := newTestResolver()
	ctx := context.Background()

	pairs := [][2]string{{"5", "9"}, {"9", "10"}, {"alice", "bob"}, {"7", "x"}}
	for _, p := range pairs {
		ab, err := r.Resolve(ctx, types.RoomPrivate, p[1], user(p[0], types.RoleStudent))
		if err != nil {
			t.Fatalf("resolve %v failed: %v", p, err)
		}
		ba, err := r.Resolve(ctx, types.RoomPrivate, p[0], user(p[1], types.RoleStudent))
		if err != nil {
			t.Fatalf("resolve reversed %v failed: %v", p, err)
		}
		if ab.Name() != ba.Name() {
			t.Errorf("asymmetric names %s vs %s", ab.Name(), ba.Name())
		}
	}

	got, _ := r.Resolve(ctx, types.RoomPrivate, "5", user("9", types.RoleStudent))
	if got.Name() != "private:5:9" {
		t.Errorf("Expected private:5:9, got %s", got.Name())
	}
}

func TestResolve_PrivateWithSelfIsInvalid(t *testing.T) {
	r, _ := newTestResolver()
	_, err := r.Resolve(context.Background(), types.RoomPrivate, "5", user("5", types.RoleStudent))
	if !errors.Is(err, ErrInvalidRoom) {
		t.Errorf("Expected ErrInvalidRoom, got %v", err)
	}
	if CloseCode(err) != CloseForbidden {
		t.Errorf("Expected close code 4003, got %d", CloseCode(err))
	}
}

func TestResolve_RequiresAuthentication(t *testing.T) {
	r, _ := newTestResolver()
	_, err := r.Resolve(context.Background(), types.RoomThread, "42", types.Identity{ID: "5"})
	if err != ErrAuthenticationRequired {
		t.Errorf("Expected ErrAuthenticationRequired, got %v", err)
	}
	if CloseCode(err) != CloseUnauthenticated {
		t.Errorf("Expected close code 4001, got %d", CloseCode(err))
	}
}

func TestResolve_Course(t *testing.T) {
	r, _ := newTestResolver()
	ctx := context.Background()

	tests := []struct {
		name    string
		id      types.Identity
		course  string
		wantErr error
	}{
		{"enrolled student", user("5", types.RoleStudent), "7", nil},
		{"instructor", user("100", types.RoleTeacher), "7", nil},
		{"staff", user("101", types.RoleStudent), "7", nil},
		{"not enrolled", user("9", types.RoleStudent), "7", ErrForbidden},
		{"teacher of another course", user("200", types.RoleTeacher), "7", ErrForbidden},
		{"unknown course", user("5", types.RoleStudent), "8", ErrRoomNotFound},
		{"malformed id", user("5", types.RoleStudent), "7:1", ErrInvalidRoom},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Resolve(ctx, types.RoomCourse, tt.course, tt.id)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if got.Name() != "course:"+tt.course {
					t.Errorf("unexpected room %s", got.Name())
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestResolve_CourseCloseCodes(t *testing.T) {
	r, dir := newTestResolver()
	ctx := context.Background()

	_, err := r.Resolve(ctx, types.RoomCourse, "7", user("9", types.RoleStudent))
	if CloseCode(err) != CloseForbidden {
		t.Errorf("Expected 4003 for non-enrolled user, got %d", CloseCode(err))
	}
	_, err = r.Resolve(ctx, types.RoomCourse, "8", user("9", types.RoleStudent))
	if CloseCode(err) != CloseNotFound {
		t.Errorf("Expected 4004 for unknown course, got %d", CloseCode(err))
	}

	dir.lookupErr = errors.New("store unavailable")
	_, err = r.Resolve(ctx, types.RoomCourse, "7", user("5", types.RoleStudent))
	if !errors.Is(err, ErrLookupFailed) || CloseCode(err) != CloseInternalError {
		t.Errorf("Expected lookup failure with 1011, got %v (%d)", err, CloseCode(err))
	}
}

func TestResolve_Thread(t *testing.T) {
	r, _ := newTestResolver()
	ctx := context.Background()

	got, err := r.Resolve(ctx, types.RoomThread, "42", user("5", types.RoleStudent))
	if err != nil || got.Name() != "thread:42" {
		t.Errorf("Expected thread:42, got %s %v", got.Name(), err)
	}
	if _, err := r.Resolve(ctx, types.RoomThread, "404", user("5", types.RoleStudent)); err != ErrRoomNotFound {
		t.Errorf("Expected ErrRoomNotFound, got %v", err)
	}

	open := NewResolver(nil, nil, nil)
	if _, err := open.Resolve(ctx, types.RoomThread, "404", user("5", types.RoleStudent)); err != nil {
		t.Errorf("Without a thread directory any thread resolves, got %v", err)
	}
}

func TestResolve_Moderation(t *testing.T) {
	r, _ := newTestResolver()
	ctx := context.Background()

	for _, role := range []string{types.RoleModerator, types.RoleTeacher, types.RoleSupervisor} {
		got, err := r.Resolve(ctx, types.RoomModeration, "", user("1", role))
		if err != nil || got.Name() != "moderation" {
			t.Errorf("role %s: expected moderation, got %s %v", role, got.Name(), err)
		}
	}
	if _, err := r.Resolve(ctx, types.RoomModeration, "", user("1", types.RoleStudent)); err != ErrForbidden {
		t.Errorf("Expected ErrForbidden for student, got %v", err)
	}
}

func TestResolveName(t *testing.T) {
	r, _ := newTestResolver()
	ctx := context.Background()

	got, err := r.ResolveName(ctx, "private:5:9", user("9", types.RoleStudent))
	if err != nil || got.Name() != "private:5:9" {
		t.Errorf("participant should resolve, got %s %v", got.Name(), err)
	}
	if _, err := r.ResolveName(ctx, "private:5:9", user("7", types.RoleStudent)); err != ErrForbidden {
		t.Errorf("Expected ErrForbidden for outsider, got %v", err)
	}
	if _, err := r.ResolveName(ctx, "thread:43", user("7", types.RoleStudent)); err != nil {
		t.Errorf("thread:43 should resolve, got %v", err)
	}
	if _, err := r.ResolveName(ctx, "lobby:1", user("7", types.RoleStudent)); !errors.Is(err, ErrInvalidRoom) {
		t.Errorf("Expected ErrInvalidRoom, got %v", err)
	}
	if _, err := r.ResolveName(ctx, "moderation", user("7", types.RoleModerator)); err != nil {
		t.Errorf("moderation should resolve for moderator, got %v", err)
	}
}
