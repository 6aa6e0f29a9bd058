package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"campuswire/internal/app"
	"campuswire/internal/auth"
	"campuswire/internal/broker"
	"campuswire/internal/config"
	"campuswire/internal/directory"
	"campuswire/pkg/types"
)

const testSecret = "cli-test-secret"

// isolate points the CLI at a throwaway SQLite file
func isolate(t *testing.T) string {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "cli.db")
	t.Setenv("CAMPUSWIRE_DATABASE_DSN", dsn)
	t.Setenv("CAMPUSWIRE_AUTH_JWT_SECRET", testSecret)
	t.Setenv("CAMPUSWIRE_BROKER_DRIVER", "none")
	t.Setenv("CAMPUSWIRE_LOGGING_LEVEL", "error")
	return dsn
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := newApp(&out).Run(context.Background(), append([]string{"campuswire"}, args...))
	return out.String(), err
}

func TestToken(t *testing.T) {
	isolate(t)

	out, err := run(t, "token", "--user", "42", "--username", "ada", "--role", "teacher")
	if err != nil {
		t.Fatalf("token failed: %v", err)
	}

	authenticator, err := auth.NewAuthenticator(auth.Config{Secret: testSecret, Issuer: config.DefaultConfig().Auth.Issuer})
	if err != nil {
		t.Fatalf("NewAuthenticator failed: %v", err)
	}
	identity, err := authenticator.Parse(strings.TrimSpace(out))
	if err != nil {
		t.Fatalf("Issued token did not parse: %v", err)
	}
	if identity.ID != "42" || identity.Username != "ada" || identity.Role != types.RoleTeacher {
		t.Errorf("Unexpected identity %+v", identity)
	}
}

func TestToken_RequiresUser(t *testing.T) {
	isolate(t)

	if _, err := run(t, "token"); err == nil {
		t.Error("Expected error without --user")
	}
}

func TestMigrate(t *testing.T) {
	isolate(t)

	out, err := run(t, "migrate")
	if err != nil {
		t.Fatalf("migrate failed: %v", err)
	}
	if !strings.Contains(out, "up to date") {
		t.Errorf("Unexpected output %q", out)
	}

	// applying twice is a no-op
	if _, err := run(t, "migrate"); err != nil {
		t.Fatalf("second migrate failed: %v", err)
	}
}

func TestCourseAndEnroll(t *testing.T) {
	isolate(t)

	if _, err := run(t, "course", "--id", "101", "--title", "Algorithms", "--instructor", "1", "--staff", "2"); err != nil {
		t.Fatalf("course failed: %v", err)
	}
	if _, err := run(t, "enroll", "--course", "101", "--user", "5", "--username", "grace"); err != nil {
		t.Fatalf("enroll failed: %v", err)
	}

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	store, err := app.OpenStore(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("OpenStore failed: %v", err)
	}
	defer store.Close()
	dir := directory.New(store, nil)

	course, err := dir.GetCourse(context.Background(), "101")
	if err != nil {
		t.Fatalf("GetCourse failed: %v", err)
	}
	if course.InstructorID != "1" || !course.HasStaff("2") {
		t.Errorf("Unexpected course %+v", course)
	}
	enrolled, err := dir.IsEnrolled(context.Background(), "5", "101")
	if err != nil || !enrolled {
		t.Errorf("Expected user 5 enrolled, got %v, %v", enrolled, err)
	}
	name, err := dir.GetUsername(context.Background(), "5")
	if err != nil || name != "grace" {
		t.Errorf("Expected username grace, got %q, %v", name, err)
	}
}

func TestCourse_InvalidID(t *testing.T) {
	isolate(t)

	if _, err := run(t, "course", "--id", "bad id", "--instructor", "1"); err == nil {
		t.Error("Expected error for invalid course id")
	}
}

func TestPublish_Validation(t *testing.T) {
	isolate(t)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"invalid room", []string{"--type", "NewPost", "--room", "lobby"}, "invalid room"},
		{"unknown type", []string{"--type", "Nope", "--room", "thread:42"}, "unknown bridge event type"},
		{"bad payload", []string{"--type", "NewPost", "--room", "thread:42", "--payload", "{oops"}, "not valid JSON"},
		{"no broker", []string{"--type", "NewPost", "--room", "thread:42", "--payload", `{"id":"1"}`}, "needs a broker"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, append([]string{"publish"}, tt.args...)...)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestPublishOnce_ReportsBrokerFailure(t *testing.T) {
	ctx := context.Background()
	payload := json.RawMessage(`{"id":7}`)

	live := broker.NewMemory(8, nil)
	defer func() { _ = live.Close() }()
	if err := publishOnce(ctx, live, time.Second, nil, types.BridgeNewPost, "thread:42", payload); err != nil {
		t.Errorf("Expected publish through a live broker to succeed, got %v", err)
	}

	closed := broker.NewMemory(8, nil)
	_ = closed.Close()
	err := publishOnce(ctx, closed, time.Second, nil, types.BridgeNewPost, "thread:42", payload)
	if err == nil || !strings.Contains(err.Error(), "broker publish failed") {
		t.Errorf("Expected a broker failure to be reported, got %v", err)
	}
}

func TestVersionFlag(t *testing.T) {
	out, err := run(t, "--version")
	if err != nil {
		t.Fatalf("--version failed: %v", err)
	}
	if !strings.Contains(out, version) {
		t.Errorf("Expected version %q in %q", version, out)
	}
}
