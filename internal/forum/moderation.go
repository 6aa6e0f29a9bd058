package forum

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"campuswire/internal/notify"
	"campuswire/pkg/types"
)

// Moderation targets
const (
	TargetPost    = "post"
	TargetComment = "comment"
	TargetThread  = "thread"
)

// Moderation actions
const (
	ActionHide    = "hide"
	ActionRestore = "restore"
	ActionDelete  = "delete"
	ActionWarn    = "warn"
)

// ModerationRequest describes one moderator decision
type ModerationRequest struct {
	TargetType string `json:"target_type" validate:"required,oneof=post comment thread"`
	TargetID   string `json:"target_id" validate:"required"`
	Action     string `json:"action" validate:"required,oneof=hide restore delete warn"`
	Reason     string `json:"reason" validate:"max=1000"`
}

func targetCollection(targetType string) (string, error) {
	switch targetType {
	case TargetPost:
		return CollectionPosts, nil
	case TargetComment:
		return CollectionComments, nil
	case TargetThread:
		return CollectionThreads, nil
	default:
		return "", fmt.Errorf("%w: unknown target type %q", ErrInvalidInput, targetType)
	}
}

// Moderate applies a moderation action, records it, and notifies the
// moderation room. Hiding or deleting a post also tells its thread.
func (s *Service) Moderate(ctx context.Context, actor types.Identity, req ModerationRequest) (*ModerationAction, error) {
	if !actor.IsStaff() {
		return nil, ErrForbidden
	}
	collection, err := targetCollection(req.TargetType)
	if err != nil {
		return nil, err
	}

	target, err := s.get(ctx, collection, req.TargetID)
	if err != nil {
		return nil, err
	}
	threadID := target.String("thread_id")
	if req.TargetType == TargetThread {
		threadID = target.ID
	}

	switch req.Action {
	case ActionHide, ActionRestore:
		hidden := req.Action == ActionHide
		if err := s.store.Update(ctx, collection, target.ID, map[string]interface{}{"hidden": hidden}); err != nil {
			return nil, fmt.Errorf("moderate %s: %w", req.TargetType, err)
		}
	case ActionDelete:
		if err := s.store.Delete(ctx, collection, target.ID); err != nil {
			return nil, fmt.Errorf("moderate %s: %w", req.TargetType, err)
		}
	case ActionWarn:
	default:
		return nil, fmt.Errorf("%w: unknown action %q", ErrInvalidInput, req.Action)
	}

	record := map[string]interface{}{
		"target_type":  req.TargetType,
		"target_id":    target.ID,
		"thread_id":    threadID,
		"action":       req.Action,
		"reason":       strings.TrimSpace(req.Reason),
		"moderator_id": actor.ID,
	}
	id, err := s.store.Add(ctx, CollectionModerations, record)
	if err != nil {
		return nil, fmt.Errorf("record moderation: %w", err)
	}
	doc, err := s.store.Get(ctx, CollectionModerations, id)
	if err != nil {
		return nil, fmt.Errorf("read moderation: %w", err)
	}
	action := &ModerationAction{
		ID:          doc.ID,
		TargetType:  doc.String("target_type"),
		TargetID:    doc.String("target_id"),
		ThreadID:    doc.String("thread_id"),
		Action:      doc.String("action"),
		Reason:      doc.String("reason"),
		ModeratorID: doc.String("moderator_id"),
		CreatedAt:   doc.CreatedAt,
	}

	s.notifier.PublishFrom(actor.ID, types.BridgeModerationAction, types.ModerationRoom().Name(), action)

	if req.TargetType == TargetPost && threadID != "" && (req.Action == ActionHide || req.Action == ActionDelete) {
		s.notifier.PublishFrom(actor.ID, types.BridgeThreadStateChanged, types.ThreadRoom(threadID).Name(),
			notify.ForumUpdate{
				Message: "A post was removed by a moderator",
				Thread:  map[string]interface{}{"id": threadID, "removed_post": target.ID},
			})
	}

	s.logger.Info("Moderation action applied",
		zap.String("target_type", req.TargetType),
		zap.String("target", target.ID),
		zap.String("action", req.Action),
		zap.String("moderator", actor.ID))
	return action, nil
}
