package v1

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/roginn/towd-you-so/internal/domain"
)

type CreateSessionOutput struct {
	Body struct {
		SessionID string `json:"session_id" doc:"New session ID"`
	}
}

type ListEntriesInput struct {
	ID uuid.UUID `path:"id" doc:"Session ID"`
}

type ListEntriesOutput struct {
	Body []domain.Entry
}

func RegisterSessionRoutes(api huma.API, store DataStore) {
	huma.Register(api, huma.Operation{
		OperationID: "create-session",
		Method:      http.MethodPost,
		Path:        "/sessions",
		Summary:     "Create a conversation session",
		Tags:        []string{"Sessions"},
	}, func(ctx context.Context, _ *struct{}) (*CreateSessionOutput, error) {
		s, err := store.Sessions().CreateSession(ctx, nil)
		if err != nil {
			log.Error().Err(err).Msg("create session")
			return nil, huma.Error500InternalServerError("failed to create session")
		}

		out := &CreateSessionOutput{}
		out.Body.SessionID = s.ID.String()
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-session-entries",
		Method:      http.MethodGet,
		Path:        "/sessions/{id}/entries",
		Summary:     "List a session's entries in log order",
		Tags:        []string{"Sessions"},
	}, func(ctx context.Context, input *ListEntriesInput) (*ListEntriesOutput, error) {
		entries, err := store.Sessions().ListBySession(ctx, input.ID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, huma.Error404NotFound("Session not found")
			}
			return nil, huma.Error500InternalServerError("failed to list entries")
		}
		return &ListEntriesOutput{Body: entries}, nil
	})
}
