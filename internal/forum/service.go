package forum

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"campuswire/internal/notify"
	"campuswire/pkg/interfaces"
	"campuswire/pkg/types"
)

const (
	maxTitleLength   = 200
	maxContentLength = 10000
	maxCASAttempts   = 3
)

// Notifier hands realtime events to connected clients
type Notifier interface {
	PublishFrom(origin string, eventType types.BridgeEvent, roomName string, payload interface{})
}

// Membership answers whether a user belongs to a course
type Membership interface {
	IsCourseMember(ctx context.Context, userID, courseID string) (bool, error)
}

// Service owns forum writes. Every write that succeeds is followed by
// exactly one notification per affected room.
type Service struct {
	store    interfaces.DocumentStore
	members  Membership
	notifier Notifier
	logger   *zap.Logger
}

func NewService(store interfaces.DocumentStore, members Membership, notifier Notifier, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:    store,
		members:  members,
		notifier: notifier,
		logger:   logger.With(zap.String("component", "forum")),
	}
}

func cleanText(field, s string, max int) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("%w: %s is required", ErrInvalidInput, field)
	}
	if utf8.RuneCountInString(s) > max {
		return "", fmt.Errorf("%w: %s exceeds %d characters", ErrInvalidInput, field, max)
	}
	return s, nil
}

func (s *Service) get(ctx context.Context, collection, id string) (*types.Document, error) {
	if !types.IsValidRoomKey(id) {
		return nil, ErrNotFound
	}
	doc, err := s.store.Get(ctx, collection, id)
	if errors.Is(err, interfaces.ErrNotFound) {
		return nil, ErrNotFound
	}
	return doc, err
}

// CreateThread opens a thread in a course the actor belongs to
func (s *Service) CreateThread(ctx context.Context, actor types.Identity, courseID, title, body string) (*Thread, error) {
	title, err := cleanText("title", title, maxTitleLength)
	if err != nil {
		return nil, err
	}
	body, err = cleanText("body", body, maxContentLength)
	if err != nil {
		return nil, err
	}

	if !types.IsValidRoomKey(courseID) {
		return nil, ErrNotFound
	}
	member, err := s.members.IsCourseMember(ctx, actor.ID, courseID)
	if errors.Is(err, interfaces.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("membership lookup: %w", err)
	}
	if !member {
		return nil, ErrForbidden
	}

	id, err := s.store.Add(ctx, CollectionThreads, map[string]interface{}{
		"course_id":   courseID,
		"title":       title,
		"body":        body,
		"author_id":   actor.ID,
		"author_name": actor.DisplayName(),
		"closed":      false,
		"pinned":      false,
		"solved":      false,
	})
	if err != nil {
		return nil, fmt.Errorf("create thread: %w", err)
	}
	doc, err := s.store.Get(ctx, CollectionThreads, id)
	if err != nil {
		return nil, fmt.Errorf("read thread: %w", err)
	}
	thread := threadFromDocument(doc)

	s.notifier.PublishFrom(actor.ID, types.BridgeThreadCreated, types.CourseRoom(courseID).Name(), notify.ForumUpdate{
		Message: "New thread: " + thread.Title,
		Thread:  thread,
	})
	s.logger.Info("Thread created",
		zap.String("thread", thread.ID),
		zap.String("course", courseID),
		zap.String("user", actor.ID))
	return thread, nil
}

// GetThread returns a thread by id
func (s *Service) GetThread(ctx context.Context, threadID string) (*Thread, error) {
	doc, err := s.get(ctx, CollectionThreads, threadID)
	if err != nil {
		return nil, err
	}
	return threadFromDocument(doc), nil
}

// CreatePost adds a post to an open thread
func (s *Service) CreatePost(ctx context.Context, actor types.Identity, threadID, content string) (*Post, error) {
	content, err := cleanText("content", content, maxContentLength)
	if err != nil {
		return nil, err
	}

	thread, err := s.get(ctx, CollectionThreads, threadID)
	if err != nil {
		return nil, err
	}
	if thread.Bool("closed") {
		return nil, ErrThreadClosed
	}

	id, err := s.store.Add(ctx, CollectionPosts, map[string]interface{}{
		"thread_id":   threadID,
		"author_id":   actor.ID,
		"author_name": actor.DisplayName(),
		"content":     content,
		"hidden":      false,
	})
	if err != nil {
		return nil, fmt.Errorf("create post: %w", err)
	}
	doc, err := s.store.Get(ctx, CollectionPosts, id)
	if err != nil {
		return nil, fmt.Errorf("read post: %w", err)
	}
	post := postFromDocument(doc)

	s.notifier.PublishFrom(actor.ID, types.BridgeNewPost, types.ThreadRoom(threadID).Name(), post)
	return post, nil
}

// CreateComment adds a comment to a visible post in an open thread
func (s *Service) CreateComment(ctx context.Context, actor types.Identity, postID, content string) (*Comment, error) {
	content, err := cleanText("content", content, maxContentLength)
	if err != nil {
		return nil, err
	}

	post, err := s.get(ctx, CollectionPosts, postID)
	if err != nil {
		return nil, err
	}
	if post.Bool("hidden") {
		return nil, ErrNotFound
	}
	threadID := post.String("thread_id")
	thread, err := s.get(ctx, CollectionThreads, threadID)
	if err != nil {
		return nil, err
	}
	if thread.Bool("closed") {
		return nil, ErrThreadClosed
	}

	id, err := s.store.Add(ctx, CollectionComments, map[string]interface{}{
		"post_id":     postID,
		"thread_id":   threadID,
		"author_id":   actor.ID,
		"author_name": actor.DisplayName(),
		"content":     content,
		"hidden":      false,
	})
	if err != nil {
		return nil, fmt.Errorf("create comment: %w", err)
	}
	doc, err := s.store.Get(ctx, CollectionComments, id)
	if err != nil {
		return nil, fmt.Errorf("read comment: %w", err)
	}
	comment := commentFromDocument(doc)

	s.notifier.PublishFrom(actor.ID, types.BridgeNewComment, types.ThreadRoom(threadID).Name(), comment)
	return comment, nil
}

// Transition changes a thread's state with compare-and-swap, retrying
// when another writer got there first. Applying a transition the thread
// is already in returns ErrInvalidTransition.
func (s *Service) Transition(ctx context.Context, actor types.Identity, threadID string, transition Transition) (*Thread, error) {
	rule, ok := transitionRules[transition]
	if !ok {
		return nil, fmt.Errorf("%w: unknown transition %q", ErrInvalidInput, transition)
	}

	for attempt := 1; ; attempt++ {
		doc, err := s.get(ctx, CollectionThreads, threadID)
		if err != nil {
			return nil, err
		}
		if !rule.permits(actor, doc) {
			return nil, ErrForbidden
		}
		if doc.Bool(rule.field) == rule.value {
			return nil, fmt.Errorf("%w: thread already %s", ErrInvalidTransition, transitionState(transition))
		}

		err = s.store.UpdateIf(ctx, CollectionThreads, threadID, doc.Version, map[string]interface{}{
			rule.field: rule.value,
		})
		if errors.Is(err, interfaces.ErrVersionConflict) {
			if attempt < maxCASAttempts {
				s.logger.Debug("Thread changed concurrently, retrying",
					zap.String("thread", threadID),
					zap.String("transition", string(transition)),
					zap.Int("attempt", attempt))
				continue
			}
			return nil, ErrConflict
		}
		if errors.Is(err, interfaces.ErrNotFound) {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("update thread: %w", err)
		}
		break
	}

	updated, err := s.GetThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	s.notifier.PublishFrom(actor.ID, types.BridgeThreadStateChanged, types.ThreadRoom(threadID).Name(),
		notify.ForumUpdate{Message: rule.message, Thread: updated})
	s.logger.Info("Thread transitioned",
		zap.String("thread", threadID),
		zap.String("transition", string(transition)),
		zap.String("user", actor.ID))
	return updated, nil
}

func transitionState(t Transition) string {
	switch t {
	case TransitionClose:
		return "closed"
	case TransitionReopen:
		return "open"
	case TransitionPin:
		return "pinned"
	case TransitionUnpin:
		return "unpinned"
	case TransitionSolve:
		return "solved"
	default:
		return "unsolved"
	}
}
