// ABOUTME: Persona and conversation CRUD with responder lifecycle notifications
// ABOUTME: Creating a DM or group attaches its responder; deleting one detaches it

package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/2389/solipcord/internal/store"
)

// CreatePersonaRequest is the input to CreatePersona.
type CreatePersonaRequest struct {
	Name        string `json:"name" validate:"required,max=64"`
	Description string `json:"description" validate:"max=4000"`
	Avatar      string `json:"avatar" validate:"omitempty,url"`
}

// PersonaBatchRequest is the input to GetPersonas.
type PersonaBatchRequest struct {
	IDs []string `json:"ids" validate:"min=1,max=100,dive,required"`
}

// CreateGroupRequest is the input to CreateGroup.
type CreateGroupRequest struct {
	Name           string   `json:"name" validate:"required,max=100"`
	ParticipantIDs []string `json:"participantIds" validate:"min=1,unique,dive,required"`
}

// CreatePersona stores a new persona.
func (s *Service) CreatePersona(ctx context.Context, req CreatePersonaRequest) (*store.Persona, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Description = strings.TrimSpace(req.Description)
	if err := s.validate.Struct(req); err != nil {
		return nil, validationError(err)
	}

	p := &store.Persona{
		ID:          uuid.New().String(),
		Name:        req.Name,
		Description: req.Description,
		Avatar:      req.Avatar,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.store.CreatePersona(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to create persona: %w", err)
	}
	s.logger.Info("persona created", "persona_id", p.ID, "name", p.Name)
	return p, nil
}

// GetPersona returns one persona.
func (s *Service) GetPersona(ctx context.Context, id string) (*store.Persona, error) {
	return s.store.GetPersona(ctx, id)
}

// GetPersonas returns the personas named by req in request order.
// Unknown ids are skipped.
func (s *Service) GetPersonas(ctx context.Context, req PersonaBatchRequest) ([]*store.Persona, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, validationError(err)
	}
	personas := make([]*store.Persona, 0, len(req.IDs))
	for _, id := range req.IDs {
		p, err := s.store.GetPersona(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("loading persona %s: %w", id, err)
		}
		personas = append(personas, p)
	}
	return personas, nil
}

// ListPersonas returns every persona.
func (s *Service) ListPersonas(ctx context.Context) ([]*store.Persona, error) {
	return s.store.ListPersonas(ctx)
}

// DeletePersona removes a persona. A persona that still takes part in a
// conversation is refused with store.ErrConflict.
func (s *Service) DeletePersona(ctx context.Context, id string) error {
	if err := s.store.DeletePersona(ctx, id); err != nil {
		return fmt.Errorf("failed to delete persona %s: %w", id, err)
	}
	s.logger.Info("persona deleted", "persona_id", id)
	return nil
}

// CreateDirectConversation opens a DM with a persona and attaches its responder.
func (s *Service) CreateDirectConversation(ctx context.Context, personaID string) (*store.DirectConversation, error) {
	personaID = strings.TrimSpace(personaID)
	if personaID == "" {
		return nil, fmt.Errorf("%w: personaId is required", ErrValidation)
	}
	if _, err := s.store.GetPersona(ctx, personaID); err != nil {
		return nil, fmt.Errorf("loading persona %s: %w", personaID, err)
	}

	dm := &store.DirectConversation{
		ID:        uuid.New().String(),
		PersonaID: personaID,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.CreateDirectConversation(ctx, dm); err != nil {
		return nil, fmt.Errorf("failed to create direct conversation: %w", err)
	}

	s.logger.Info("direct conversation created", "conversation_id", dm.ID, "persona_id", personaID)
	s.notifyCreated(ctx, store.DMRef(dm.ID))
	return dm, nil
}

// GetDirectConversation returns one DM.
func (s *Service) GetDirectConversation(ctx context.Context, id string) (*store.DirectConversation, error) {
	return s.store.GetDirectConversation(ctx, id)
}

// ListDirectConversations returns every DM.
func (s *Service) ListDirectConversations(ctx context.Context) ([]*store.DirectConversation, error) {
	return s.store.ListDirectConversations(ctx)
}

// DeleteDirectConversation detaches the responder and removes the DM with its messages.
func (s *Service) DeleteDirectConversation(ctx context.Context, id string) error {
	ref := store.DMRef(id)
	if err := s.store.DeleteDirectConversation(ctx, id); err != nil {
		return fmt.Errorf("failed to delete %s: %w", ref, err)
	}
	s.logger.Info("direct conversation deleted", "conversation_id", id)
	s.notifyDeleted(ref)
	return nil
}

// CreateGroup opens a group chat with one to nine distinct existing personas.
func (s *Service) CreateGroup(ctx context.Context, req CreateGroupRequest) (*store.GroupConversation, error) {
	req.Name = strings.TrimSpace(req.Name)
	if err := s.validate.Struct(req); err != nil {
		return nil, validationError(err)
	}
	if len(req.ParticipantIDs) > store.MaxGroupParticipants {
		return nil, fmt.Errorf("%w: participantIds allows at most %d entries", ErrValidation, store.MaxGroupParticipants)
	}
	for _, id := range req.ParticipantIDs {
		if _, err := s.store.GetPersona(ctx, id); err != nil {
			return nil, fmt.Errorf("loading persona %s: %w", id, err)
		}
	}

	g := &store.GroupConversation{
		ID:             uuid.New().String(),
		Name:           req.Name,
		ParticipantIDs: req.ParticipantIDs,
		CreatedAt:      s.now().UTC(),
	}
	if err := s.store.CreateGroupConversation(ctx, g); err != nil {
		return nil, fmt.Errorf("failed to create group: %w", err)
	}

	s.logger.Info("group created",
		"conversation_id", g.ID,
		"name", g.Name,
		"participants", len(g.ParticipantIDs))
	s.notifyCreated(ctx, store.GroupRef(g.ID))
	return g, nil
}

// GetGroup returns one group.
func (s *Service) GetGroup(ctx context.Context, id string) (*store.GroupConversation, error) {
	return s.store.GetGroupConversation(ctx, id)
}

// ListGroups returns every group.
func (s *Service) ListGroups(ctx context.Context) ([]*store.GroupConversation, error) {
	return s.store.ListGroupConversations(ctx)
}

// DeleteGroup detaches the responder and removes the group with its messages.
func (s *Service) DeleteGroup(ctx context.Context, id string) error {
	ref := store.GroupRef(id)
	if err := s.store.DeleteGroupConversation(ctx, id); err != nil {
		return fmt.Errorf("failed to delete %s: %w", ref, err)
	}
	s.logger.Info("group deleted", "conversation_id", id)
	s.notifyDeleted(ref)
	return nil
}

func (s *Service) notifyCreated(ctx context.Context, ref store.ConversationRef) {
	if s.notifier != nil {
		s.notifier.ConversationCreated(ctx, ref)
	}
}

func (s *Service) notifyDeleted(ref store.ConversationRef) {
	if s.notifier != nil {
		s.notifier.ConversationDeleted(ref)
	}
}

// nowFunc lets tests pin the clock.
func (s *Service) nowFunc(fn func() time.Time) {
	s.now = fn
}
