// Package market supplies closed-bar events to the engine, either replayed
// from stored history or streamed from a live feed.
package market

import (
	"context"
	"iter"

	"github.com/rxtech-lab/argo-playbook/internal/types"
)

// Source produces closed-bar events in chronological order per symbol.
type Source interface {
	// Stream returns an iterator that yields bar events and error pairs.
	// Cancel the context to stop streaming. A yielded error does not
	// necessarily end the stream; live sources keep reconnecting until
	// the context is done.
	Stream(ctx context.Context) iter.Seq2[types.BarEvent, error]
}
