package httptransport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// defaultStreamBufferCap is the per-connection cap used when
// ControlProtoConfig.StreamBufferCap is unset. The cap bounds both the page
// size of each backlog read and the number of pending live notifications;
// a lagging consumer beyond this is dropped per spec §5's backpressure
// rule, with the durable event log remaining the source of truth for a
// fresh since_event_id reconnect.
const defaultStreamBufferCap = 256

// jobEventsHandler serves GET /api/v1/jobs/:id/events: a durable-cursor
// replay of everything since an optional since_event_id, then a live
// tail via the Postgres LISTEN/NOTIFY broadcaster until the client
// disconnects or its notification buffer overflows. The live tail does not
// end on its own when the job reaches a terminal status.
func (s *Server) jobEventsHandler(c *gin.Context) {
	jobID := c.Param("id")
	since, _ := strconv.ParseInt(c.Query("since_event_id"), 10, 64)

	bufCap := s.cfg.StreamBufferCap
	if bufCap <= 0 {
		bufCap = defaultStreamBufferCap
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	flusher, canFlush := c.Writer.(http.Flusher)

	ctx := c.Request.Context()
	lastID := since
	if err := s.replayBacklog(ctx, c, jobID, &lastID, bufCap); err != nil {
		return
	}
	if canFlush {
		flusher.Flush()
	}

	if s.broadcaster == nil {
		return
	}

	notifyCh := make(chan int64, bufCap)
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		_ = s.broadcaster.Subscribe(subCtx, jobID, func(eventID int64) {
			select {
			case notifyCh <- eventID:
			default:
				// Per-connection buffer full: drop the connection rather
				// than block the broadcaster goroutine. The client
				// reconnects with since_event_id from its last seen id.
				cancel()
			}
		})
	}()

	for {
		select {
		case <-subCtx.Done():
			return
		case <-notifyCh:
			if err := s.replayBacklog(ctx, c, jobID, &lastID, bufCap); err != nil {
				return
			}
			if canFlush {
				flusher.Flush()
			}
		}
	}
}

// replayBacklog writes every durable event for jobID with id > *lastID,
// advancing *lastID as it goes.
func (s *Server) replayBacklog(ctx context.Context, c *gin.Context, jobID string, lastID *int64, limit int) error {
	for {
		events, err := s.store.GetJobEvents(ctx, jobID, *lastID, limit)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			return nil
		}
		for _, ev := range events {
			payload, _ := json.Marshal(ev)
			if _, err := fmt.Fprintf(c.Writer, "id: %d\nevent: %s\ndata: %s\n\n", ev.ID, ev.EventType, payload); err != nil {
				return err
			}
			*lastID = ev.ID
		}
		if len(events) < limit {
			return nil
		}
	}
}
