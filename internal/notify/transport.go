package notify

import (
	"context"

	"github.com/Dozodouzo/gitnotify/internal/format"
)

// Transport delivers one rendered line to one destination. The core never
// formats for a specific wire syntax; the transport interprets the line's
// style markers however it sees fit.
type Transport interface {
	Send(ctx context.Context, destination string, line format.Line) error
}
