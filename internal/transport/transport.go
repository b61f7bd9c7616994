// Package transport carries the coordination protocol over its two front
// ends: line-delimited JSON-RPC on standard streams and HTTP with an SSE
// liveness channel. Both share one dispatch path into the tool surface, so
// a request behaves identically regardless of how it arrived.
package transport

import "context"

// Kind identifies which front end received a request.
type Kind int

const (
	// KindUnknown marks contexts no transport has tagged.
	KindUnknown Kind = iota
	// KindStdio is the line-delimited stream on standard streams.
	KindStdio
	// KindHTTP is the HTTP POST front end.
	KindHTTP
)

// String returns the log name of the transport kind.
func (k Kind) String() string {
	switch k {
	case KindStdio:
		return "stdio"
	case KindHTTP:
		return "http"
	default:
		return "unknown"
	}
}

type kindKey struct{}

// WithKind tags ctx with the transport kind that received the request.
func WithKind(ctx context.Context, k Kind) context.Context {
	return context.WithValue(ctx, kindKey{}, k)
}

// KindFrom reports the transport kind carried by ctx. KindUnknown when the
// context was never tagged.
func KindFrom(ctx context.Context) Kind {
	if k, ok := ctx.Value(kindKey{}).(Kind); ok {
		return k
	}
	return KindUnknown
}
