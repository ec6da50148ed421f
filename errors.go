package mindweave

import (
	"errors"

	"github.com/mindweave/mindweave.go/pkg/channel"
	"github.com/mindweave/mindweave.go/pkg/gateway"
	"github.com/mindweave/mindweave.go/pkg/store"
)

// ErrClosed reports an operation against a client that has been closed.
// Results of calls still in flight when Close happens are discarded rather
// than applied to the torn-down store.
var ErrClosed = errors.New("client is closed")

// RequestError is a failed gateway round trip. No local state was mutated;
// the caller decides whether to retry.
type RequestError = gateway.RequestError

// Re-exported sentinels so callers need only this package for errors.Is.
var (
	ErrConflictingMove = store.ErrConflictingMove
	ErrNodeNotFound    = store.ErrNodeNotFound
	ErrChannelNotOpen  = channel.ErrNotOpen
)
