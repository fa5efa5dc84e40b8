package core

import (
	"context"
	"errors"

	"github.com/rescuebox/rescuebox/internal/db"
)

var ErrInvocationNotFound = errors.New("invocation not found")

// HistoryService reads recorded invocations back.
type HistoryService struct {
	db    *db.DB
	store *ArtifactStore
}

func NewHistoryService(database *db.DB, store *ArtifactStore) *HistoryService {
	return &HistoryService{db: database, store: store}
}

// InvocationDetail is an invocation row with its artifacts.
type InvocationDetail struct {
	*db.Invocation
	Artifacts []*db.Artifact `json:"artifacts"`
}

// Get returns ErrInvocationNotFound for unknown ids.
func (s *HistoryService) Get(ctx context.Context, invocationID string) (*InvocationDetail, error) {
	inv, err := s.db.GetInvocation(ctx, invocationID)
	if err != nil {
		return nil, err
	}
	if inv == nil {
		return nil, ErrInvocationNotFound
	}
	arts, err := s.store.ListByInvocation(ctx, invocationID)
	if err != nil {
		return nil, err
	}
	if arts == nil {
		arts = []*db.Artifact{}
	}
	return &InvocationDetail{Invocation: inv, Artifacts: arts}, nil
}

// List returns the most recent invocations, optionally for one command.
func (s *HistoryService) List(ctx context.Context, command string, limit int) ([]*db.Invocation, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	out, err := s.db.ListInvocations(ctx, command, limit)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []*db.Invocation{}
	}
	return out, nil
}

// Stdout returns the captured stdout of an invocation, or "" if none was captured.
func (s *HistoryService) Stdout(ctx context.Context, inv *db.Invocation) (string, error) {
	if inv.StdoutArtifactID == nil {
		return "", nil
	}
	b, err := s.store.Read(ctx, *inv.StdoutArtifactID)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
