// Package request routes typed client requests to the capability that
// serves them.
package request

import (
	"context"
	"fmt"

	"github.com/go-broker-agent/internal/domain"
	"github.com/go-broker-agent/internal/infrastructure/broker"
	"golang.org/x/time/rate"
)

// Connections is the slice of the connection service used to resolve a
// broker credential for portfolio requests.
type Connections interface {
	List(ctx context.Context, owner string) ([]domain.Connection, error)
	DecryptSecret(requestorOwner string, c *domain.Connection) (string, error)
}

// Analyzer serves analysis and chat requests. It is an optional external
// capability; a nil Analyzer turns those request types into ErrBadRequest.
type Analyzer interface {
	Analyze(ctx context.Context, owner, content string, parameters []byte) (interface{}, error)
	Chat(ctx context.Context, owner, content string) (string, error)
}

// Service dispatches a ClientRequest by its type tag.
type Service interface {
	Handle(ctx context.Context, owner string, req *domain.ClientRequest) *domain.ClientResponse
}

type service struct {
	conns    Connections
	broker   broker.Client
	analyzer Analyzer
	limiter  *rate.Limiter
}

func NewService(conns Connections, brokerClient broker.Client, analyzer Analyzer, limiter *rate.Limiter) Service {
	return &service{
		conns:    conns,
		broker:   brokerClient,
		analyzer: analyzer,
		limiter:  limiter,
	}
}

// InvalidType builds the failure envelope for an unknown or missing request
// discriminant. The transport layer pairs it with a client-error status.
func InvalidType(t domain.RequestType) *domain.ClientResponse {
	return failure(fmt.Sprintf("Invalid request type: %s", t))
}

// Handle never returns a Go error; every outcome is folded into the response
// envelope so the caller always gets {success, data|error}.
func (s *service) Handle(ctx context.Context, owner string, req *domain.ClientRequest) *domain.ClientResponse {
	if !req.Type.Valid() {
		return InvalidType(req.Type)
	}

	var (
		data interface{}
		err  error
	)
	switch req.Type {
	case domain.RequestPortfolio:
		data, err = s.handlePortfolio(ctx, owner, req)
	case domain.RequestAnalysis:
		data, err = s.handleAnalysis(ctx, owner, req)
	case domain.RequestChat:
		data, err = s.handleChat(ctx, owner, req)
	}
	if err != nil {
		return failure(err.Error())
	}
	return &domain.ClientResponse{Success: true, Data: data}
}

// handlePortfolio resolves an active connection for the owner, decrypts its
// secret and fetches the portfolio. AccountRef narrows the read; when empty,
// the first account of the first active connection is used.
func (s *service) handlePortfolio(ctx context.Context, owner string, req *domain.ClientRequest) (interface{}, error) {
	conns, err := s.conns.List(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}

	for i := range conns {
		if !conns[i].Active {
			continue
		}
		secret, err := s.conns.DecryptSecret(owner, &conns[i])
		if err != nil {
			return nil, err
		}
		accountRef := req.AccountRef
		if accountRef == "" {
			if err := s.limiter.Wait(ctx); err != nil {
				return nil, err
			}
			accounts, err := s.broker.ListAccounts(ctx, secret)
			if err != nil {
				return nil, err
			}
			if len(accounts) == 0 {
				continue
			}
			accountRef = accounts[0].Ref
		}
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		snapshot, err := s.broker.FetchPortfolio(ctx, secret, accountRef)
		if err != nil {
			return nil, err
		}
		snapshot.Owner = owner
		return snapshot, nil
	}
	return nil, fmt.Errorf("no active broker connection: %w", domain.ErrNotFound)
}

func (s *service) handleAnalysis(ctx context.Context, owner string, req *domain.ClientRequest) (interface{}, error) {
	if s.analyzer == nil {
		return nil, fmt.Errorf("analysis is not configured: %w", domain.ErrBadRequest)
	}
	return s.analyzer.Analyze(ctx, owner, req.Content, req.Parameters)
}

func (s *service) handleChat(ctx context.Context, owner string, req *domain.ClientRequest) (interface{}, error) {
	if s.analyzer == nil {
		return nil, fmt.Errorf("chat is not configured: %w", domain.ErrBadRequest)
	}
	return s.analyzer.Chat(ctx, owner, req.Content)
}

func failure(msg string) *domain.ClientResponse {
	return &domain.ClientResponse{Success: false, Error: msg}
}
