package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/tidwall/gjson"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"campuswire/internal/app"
	"campuswire/internal/auth"
	"campuswire/internal/config"
	"campuswire/internal/directory"
	"campuswire/internal/hub"
	"campuswire/internal/logging"
	"campuswire/internal/notify"
	"campuswire/pkg/interfaces"
	"campuswire/pkg/types"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

const shutdownTimeout = 15 * time.Second

func newApp(out io.Writer) *cli.Command {
	return &cli.Command{
		Name:    "campuswire",
		Usage:   "Realtime chat and forum notifications for courses",
		Version: version,
		Writer:  out,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "Configuration file path",
				Sources: cli.EnvVars(config.EnvPrefix + "_CONFIG_FILE"),
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Enable development logging at debug level",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return serve(ctx, c)
		},
		Commands: []*cli.Command{
			serveCommand(),
			migrateCommand(out),
			tokenCommand(out),
			publishCommand(out),
			courseCommand(out),
			enrollCommand(out),
		},
	}
}

// loadRuntime loads the configuration and builds the process logger
func loadRuntime(c *cli.Command) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, nil, err
	}
	if c.Bool("debug") {
		cfg.Logging.Level = "debug"
		cfg.Logging.Development = true
	}
	logger, err := logging.New(logging.Config{
		Level:        cfg.Logging.Level,
		Development:  cfg.Logging.Development,
		RollbarToken: cfg.Logging.RollbarToken,
		Environment:  cfg.Logging.Environment,
		CodeVersion:  version,
	})
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP and websocket server",
		Action: func(ctx context.Context, c *cli.Command) error {
			return serve(ctx, c)
		},
	}
}

func serve(ctx context.Context, c *cli.Command) error {
	cfg, logger, err := loadRuntime(c)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.NewApplication(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to build application", zap.Error(err))
		return err
	}
	if err := application.Start(ctx); err != nil {
		logger.Error("Failed to start application", zap.Error(err))
		_ = application.Stop(context.Background())
		return err
	}

	<-ctx.Done()
	logger.Info("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return application.Stop(shutdownCtx)
}

func migrateCommand(out io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply pending database migrations and exit",
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, logger, err := loadRuntime(c)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			store, err := app.OpenStore(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer store.Close()
			fmt.Fprintf(out, "Database %s is up to date\n", cfg.Database.Driver)
			return nil
		},
	}
}

func tokenCommand(out io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "Issue a session token for a user",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "user", Usage: "User id", Required: true},
			&cli.StringFlag{Name: "username", Usage: "Display name"},
			&cli.StringFlag{Name: "role", Usage: "student, teacher, supervisor or moderator", Value: types.RoleStudent},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, err := config.Load(c.String("config"))
			if err != nil {
				return err
			}
			authenticator, err := auth.NewAuthenticator(auth.Config{
				Secret:   cfg.Auth.JWTSecret,
				Issuer:   cfg.Auth.Issuer,
				TokenTTL: cfg.Auth.TokenTTL,
			})
			if err != nil {
				return err
			}
			token, err := authenticator.Issue(types.Identity{
				ID:       c.String("user"),
				Username: c.String("username"),
				Role:     c.String("role"),
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(out, token)
			return nil
		},
	}
}

// publishCommand delivers one notification to every server sharing the
// configured broker. It never starts the hub: Broadcast publishes
// directly and there are no local members.
func publishCommand(out io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "publish",
		Usage: "Send a forum notification to a room through the broker",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "type", Usage: "NewPost, NewComment, ModerationAction, ThreadCreated or ThreadStateChanged", Required: true},
			&cli.StringFlag{Name: "room", Usage: "Room name, e.g. thread:42", Required: true},
			&cli.StringFlag{Name: "payload", Usage: "JSON payload", Value: "{}"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			eventType := types.BridgeEvent(c.String("type"))
			roomName := c.String("room")
			payload := strings.TrimSpace(c.String("payload"))

			if _, err := types.ParseRoom(roomName); err != nil {
				return fmt.Errorf("invalid room %q: %w", roomName, err)
			}
			if _, _, err := notify.Render(eventType, nil); err != nil {
				return err
			}
			if !gjson.Valid(payload) {
				return fmt.Errorf("payload is not valid JSON")
			}

			cfg, logger, err := loadRuntime(c)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck
			if cfg.Broker.Driver != config.BrokerRedis {
				return fmt.Errorf("publish needs a broker; set broker.driver to %q", config.BrokerRedis)
			}

			b, err := app.OpenBroker(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer b.Close()

			if err := publishOnce(ctx, b, cfg.Broker.PublishTimeout, logger, eventType, roomName, json.RawMessage(payload)); err != nil {
				return err
			}
			fmt.Fprintf(out, "Published %s to %s\n", eventType, roomName)
			return nil
		},
	}
}

// publishOnce runs one notification through a bridge and a hub that has
// no local members, then reads the hub's broker counters, since the
// bridge counts a notification delivered even when the relay failed.
func publishOnce(ctx context.Context, b interfaces.Broker, timeout time.Duration, logger *zap.Logger, eventType types.BridgeEvent, roomName string, payload json.RawMessage) error {
	h := hub.NewHub(b, hub.Config{PublishTimeout: timeout}, logger)
	bridge := notify.NewBridge(h, 1, logger)
	if err := bridge.Start(ctx); err != nil {
		return err
	}
	bridge.PublishFrom("cli", eventType, roomName, payload)
	if err := bridge.Stop(); err != nil {
		return err
	}

	if stats := bridge.GetStats(); stats["delivered"] != 1 {
		return fmt.Errorf("notification was not delivered: %v", stats)
	}
	if stats := h.GetStats(); stats["publish_failures"] > 0 || stats["published"] != 1 {
		return fmt.Errorf("broker publish failed, check broker.redis_addr: %v", stats)
	}
	return nil
}

func courseCommand(out io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "course",
		Usage: "Create or replace a course",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "id", Usage: "Course id", Required: true},
			&cli.StringFlag{Name: "title", Usage: "Course title"},
			&cli.StringFlag{Name: "instructor", Usage: "Instructor user id", Required: true},
			&cli.StringSliceFlag{Name: "staff", Usage: "Teaching assistant user ids"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return withDirectory(ctx, c, func(dir *directory.Directory) error {
				course := &types.Course{
					ID:           c.String("id"),
					Title:        c.String("title"),
					InstructorID: c.String("instructor"),
					StaffIDs:     c.StringSlice("staff"),
				}
				if err := dir.PutCourse(ctx, course); err != nil {
					return err
				}
				fmt.Fprintf(out, "Saved course %s\n", course.ID)
				return nil
			})
		},
	}
}

func enrollCommand(out io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "enroll",
		Usage: "Enroll a user in a course",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "course", Usage: "Course id", Required: true},
			&cli.StringFlag{Name: "user", Usage: "User id", Required: true},
			&cli.StringFlag{Name: "username", Usage: "Display name to record for the user"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return withDirectory(ctx, c, func(dir *directory.Directory) error {
				userID := c.String("user")
				if name := c.String("username"); name != "" {
					if err := dir.PutUser(ctx, types.Identity{ID: userID, Username: name, Role: types.RoleStudent}); err != nil {
						return err
					}
				}
				if err := dir.Enroll(ctx, userID, c.String("course")); err != nil {
					return err
				}
				fmt.Fprintf(out, "Enrolled %s in %s\n", userID, c.String("course"))
				return nil
			})
		},
	}
}

func withDirectory(ctx context.Context, c *cli.Command, fn func(*directory.Directory) error) error {
	cfg, logger, err := loadRuntime(c)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	store, err := app.OpenStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(directory.New(store, logger))
}
