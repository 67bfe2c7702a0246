package rooms

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"recruit-chat/internal/apperr"
	"recruit-chat/internal/cache"
	"recruit-chat/internal/repositories"
	"recruit-chat/internal/session"
)

// Resolver turns room names into conversation ids and guarantees the caller
// is a participant of the resolved conversation.
type Resolver struct {
	conversations repositories.ConversationRepository
	cache         cache.Cache
	ttl           time.Duration
}

// NewResolver constructs a Resolver. c may be nil to disable the shared cache.
func NewResolver(conversations repositories.ConversationRepository, c cache.Cache, ttl time.Duration) *Resolver {
	return &Resolver{conversations: conversations, cache: c, ttl: ttl}
}

// Resolve returns the conversation id for room on behalf of sess.
func (r *Resolver) Resolve(ctx context.Context, sess *session.Session, room string) (string, error) {
	if sess == nil || sess.UserID == "" {
		return "", apperr.ErrUnauthorized
	}
	if id, ok := sess.Conversation(room); ok {
		return id, nil
	}

	ref, err := Parse(room)
	if err != nil {
		return "", err
	}

	var conversationID string
	switch ref := ref.(type) {
	case DirectRoom:
		conversationID, err = r.byID(ctx, ref.ConversationID)
	case RecruitmentRoom:
		conversationID, err = r.byApplication(ctx, ref.ApplicantID)
	case RawRoom:
		conversationID, err = r.byID(ctx, ref.Name)
	}
	if err != nil {
		return "", err
	}

	if err := r.conversations.UpsertParticipant(ctx, conversationID, sess.UserID); err != nil {
		return "", apperr.ErrResolveFailed(err)
	}

	sess.Remember(room, conversationID)
	return conversationID, nil
}

func (r *Resolver) byID(ctx context.Context, id string) (string, error) {
	conv, err := r.conversations.GetConversation(ctx, id)
	if errors.Is(err, repositories.ErrConversationNotFound) {
		return "", apperr.ErrConversationNotFound
	}
	if err != nil {
		return "", apperr.ErrResolveFailed(err)
	}
	return conv.ID, nil
}

func (r *Resolver) byApplication(ctx context.Context, applicantID string) (string, error) {
	key := applicationCacheKey(applicantID)
	if r.cache != nil {
		id, err := r.cache.Get(ctx, key)
		if err == nil && id != "" {
			return id, nil
		}
		if err != nil && !errors.Is(err, cache.ErrMiss) {
			log.Warn().Err(err).Str("key", key).Msg("room cache get failed")
		}
	}

	conv, err := r.conversations.FindByApplication(ctx, applicantID)
	if errors.Is(err, repositories.ErrConversationNotFound) {
		conv, err = r.conversations.CreateForApplication(ctx, applicantID, applicationTitle(applicantID))
	}
	if err != nil {
		return "", apperr.ErrResolveFailed(err)
	}

	if r.cache != nil {
		if err := r.cache.Set(ctx, key, conv.ID, r.ttl); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("room cache set failed")
		}
	}
	return conv.ID, nil
}

func applicationCacheKey(applicantID string) string {
	return "rooms:recruitment:" + applicantID
}

func applicationTitle(applicantID string) string {
	return fmt.Sprintf("Application %s", applicantID)
}
