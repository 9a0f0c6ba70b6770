// README: In-memory sink that keeps delivered envelopes for inspection.
package notify

import (
	"context"
	"sync"
)

type Recorder struct {
	mu   sync.Mutex
	sent []Envelope
}

func (r *Recorder) Deliver(_ context.Context, e Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, e)
	return nil
}

// Sent returns a copy of every envelope delivered so far.
func (r *Recorder) Sent() []Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Envelope(nil), r.sent...)
}

// OfKind filters Sent by kind.
func (r *Recorder) OfKind(k Kind) []Envelope {
	var out []Envelope
	for _, e := range r.Sent() {
		if e.Kind == k {
			out = append(out, e)
		}
	}
	return out
}
