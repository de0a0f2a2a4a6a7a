package engine

import (
	"context"

	"github.com/mirabelle-sync/mirabelle/internal/remote"
)

// NopRemoteAPI accepts every intent without doing anything. Used when the
// engine runs without a remote session (local-only operation, tests).
type NopRemoteAPI struct{}

func (NopRemoteAPI) MoveToDebris(context.Context, remote.Handle) error { return nil }

func (NopRemoteAPI) Unlink(context.Context, remote.Handle) error { return nil }

func (NopRemoteAPI) Move(context.Context, remote.Handle, remote.Handle, string) error { return nil }

func (NopRemoteAPI) PutNodes(context.Context, []*remote.NewNode) error { return nil }

// NopTransfers discards staged uploads.
type NopTransfers struct{}

func (NopTransfers) Enqueue(*remote.NewNode) error { return nil }

func (NopTransfers) Cancel([remote.UploadTokenLen]byte) {}
