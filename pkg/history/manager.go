package history

import (
	"context"

	"aide/pkg/actor"
	"aide/pkg/logx"
	"aide/pkg/proto"
)

// Store persists turn snapshots durably.
type Store interface {
	SaveTurns(ctx context.Context, turns []proto.Turn) error
}

// Manager is the History Manager actor: it receives SaveHistoryRequest
// messages and persists snapshots through the store, acknowledging when a
// reply target is given.
type Manager struct {
	dir    *actor.Directory
	store  Store
	logger *logx.Logger
}

// NewManager creates the History Manager actor.
func NewManager(dir *actor.Directory, store Store) *Manager {
	return &Manager{
		dir:    dir,
		store:  store,
		logger: logx.NewLogger("history"),
	}
}

// Receive implements actor.Behavior.
func (m *Manager) Receive(ctx context.Context, msg proto.Message) error {
	req, ok := msg.(proto.SaveHistoryRequest)
	if !ok {
		m.logger.Warn("unexpected message kind %s, dropping", msg.Kind())
		return nil
	}

	resp := proto.SaveHistoryResponse{RequestID: req.RequestID}
	if err := m.store.SaveTurns(ctx, req.Turns); err != nil {
		m.logger.Error("save of %d turns failed: %v", len(req.Turns), err)
		resp.Err = err.Error()
	} else {
		m.logger.Debug("saved %d turns", len(req.Turns))
	}

	if req.ReplyTo == "" {
		return nil
	}
	if err := m.dir.Send(ctx, req.ReplyTo, resp); err != nil {
		m.logger.Error("save ack for %s not delivered to %s: %v", req.RequestID, req.ReplyTo, err)
	}
	return nil
}
