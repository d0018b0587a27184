// Package stdiotransport implements the line-delimited stdio mode of
// the Control Protocol (spec §6): one JSON request per line in, one
// JSON response per line out, with the tool-call recursion guard
// enforced at depth 0 for every top-level request.
package stdiotransport

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"

	"github.com/corvid-labs/orchestrator/pkg/controlproto"
)

// Request is one line of stdin: a tool name plus its raw argument
// object.
type Request struct {
	ID   string         `json:"id,omitempty"`
	Tool string         `json:"tool"`
	Args map[string]any `json:"args"`
}

// Response is one line of stdout, mirroring Request.ID back so a caller
// driving multiple in-flight requests can correlate replies.
type Response struct {
	ID     string               `json:"id,omitempty"`
	Result any                  `json:"result,omitempty"`
	Error  *controlproto.Error  `json:"error,omitempty"`
}

// Server reads newline-delimited Requests from r and writes
// newline-delimited Responses to w until r is exhausted or ctx is
// canceled. Requests are handled sequentially: the stdio transport has
// no notion of concurrent multiplexed streams, unlike httptransport's
// per-connection SSE tail.
type Server struct {
	dispatcher *controlproto.Dispatcher
	log        *slog.Logger
}

// New builds a Server bound to dispatcher.
func New(dispatcher *controlproto.Dispatcher, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{dispatcher: dispatcher, log: log}
}

// Run drives the read-dispatch-write loop until r returns io.EOF or ctx
// is canceled.
func (s *Server) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	enc := json.NewEncoder(w)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			_ = enc.Encode(Response{Error: controlproto.ErrValidation("malformed request: " + err.Error())})
			continue
		}

		result, verr := s.dispatcher.Dispatch(ctx, req.Tool, req.Args, 0)
		resp := Response{ID: req.ID, Result: result, Error: verr}
		if err := enc.Encode(resp); err != nil {
			return err
		}
	}
	return scanner.Err()
}
