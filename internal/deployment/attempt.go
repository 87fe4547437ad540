package deployment

import (
	"context"

	"mcpstudio/internal/api"
)

// Attempt is one asynchronous deployment of a server.
type Attempt struct {
	ServerID string

	cancel context.CancelFunc
	done   chan struct{}
	server *api.Server
	err    error
}

func newAttempt(serverID string, cancel context.CancelFunc) *Attempt {
	return &Attempt{ServerID: serverID, cancel: cancel, done: make(chan struct{})}
}

func (a *Attempt) finish(server *api.Server, err error) {
	a.server, a.err = server, err
	close(a.done)
}

// Done is closed when the attempt has reached DEPLOYED or FAILED.
func (a *Attempt) Done() <-chan struct{} { return a.done }

// Wait blocks until the attempt finishes or ctx ends. It returns the server
// as persisted by the final transition; on failure the error carries the
// reason that was recorded as the server's LastError.
func (a *Attempt) Wait(ctx context.Context) (*api.Server, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-a.done:
		return a.server, a.err
	}
}
