package management

import (
	"context"
	"net/url"
	"time"

	"github.com/dpup/obsidian/domain"
	"github.com/dpup/obsidian/saga"
	"github.com/google/uuid"
)

// CreateClientCommand registers a new client. A secret is generated.
type CreateClientCommand struct {
	saga.StartCommand[*ClientCreationResult]
	DisplayName  string
	RedirectURIs []string
	Scopes       []string
}

// ClientCreationResult returns the id and the only copy of the secret.
type ClientCreationResult struct {
	MessageResult
	ID     string `json:"id"`
	Secret string `json:"secret"`
}

type CreateClientSaga struct {
	saga.Base
	deps *Deps
}

func (s *CreateClientSaga) Start(ctx context.Context, cmd *CreateClientCommand) (*ClientCreationResult, error) {
	s.Complete()
	if len(cmd.RedirectURIs) == 0 {
		return &ClientCreationResult{MessageResult: rejected("At least one redirect uri is required.")}, nil
	}
	for _, u := range cmd.RedirectURIs {
		if parsed, err := url.Parse(u); err != nil || !parsed.IsAbs() {
			return &ClientCreationResult{MessageResult: rejected("Redirect uri %q is not an absolute url.", u)}, nil
		}
	}

	secret, err := newSecret()
	if err != nil {
		return nil, err
	}
	client := &domain.Client{
		ID:           uuid.NewString(),
		DisplayName:  cmd.DisplayName,
		Secret:       secret,
		RedirectURIs: cmd.RedirectURIs,
		Scopes:       cmd.Scopes,
		CreatedAt:    time.Now(),
	}
	if err := s.deps.Clients.Add(ctx, client); err != nil {
		return nil, err
	}
	return &ClientCreationResult{
		MessageResult: succeeded("Client successfully created."),
		ID:            client.ID,
		Secret:        secret,
	}, nil
}

// UpdateClientSecretCommand rotates a client's secret.
type UpdateClientSecretCommand struct {
	saga.StartCommand[*ClientSecretUpdateResult]
	ClientID string
}

// ClientSecretUpdateResult carries the new secret.
type ClientSecretUpdateResult struct {
	MessageResult
	Secret string `json:"secret"`
}

type UpdateClientSecretSaga struct {
	saga.Base
	deps *Deps
}

func (s *UpdateClientSecretSaga) Start(ctx context.Context, cmd *UpdateClientSecretCommand) (*ClientSecretUpdateResult, error) {
	s.Complete()
	client, err := s.deps.Clients.FindByID(ctx, cmd.ClientID)
	if err != nil {
		return nil, err
	}
	if client == nil {
		return &ClientSecretUpdateResult{MessageResult: rejected("Client %s doesn't exist.", cmd.ClientID)}, nil
	}
	secret, err := newSecret()
	if err != nil {
		return nil, err
	}
	client.Secret = secret
	if err := s.deps.Clients.Save(ctx, client); err != nil {
		return nil, err
	}
	return &ClientSecretUpdateResult{
		MessageResult: succeeded("Secret of client %s updated.", client.ID),
		Secret:        secret,
	}, nil
}
