package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"nhooyr.io/websocket"

	"granary/core/journal"
)

const (
	wsWriteTimeout   = 10 * time.Second
	wsSubscribeDepth = 64
	wsBacklogLimit   = 256
)

// handleEventsWS streams journal records over a websocket. A numeric cursor
// query parameter replays persisted records after that sequence before the
// live feed takes over.
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	if s == nil || s.journal == nil {
		http.Error(w, "event journal unavailable", http.StatusServiceUnavailable)
		return
	}
	if !s.allowSource(clientSource(r)) {
		http.Error(w, "too many requests", http.StatusTooManyRequests)
		return
	}
	var cursor uint64
	if raw := strings.TrimSpace(r.URL.Query().Get("cursor")); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			http.Error(w, "invalid cursor", http.StatusBadRequest)
			return
		}
		cursor = parsed
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")
	if err := s.streamEvents(r.Context(), conn, cursor); err != nil {
		if status := websocket.CloseStatus(err); status == -1 {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (s *Server) streamEvents(ctx context.Context, conn *websocket.Conn, cursor uint64) error {
	records, cancel, err := s.journal.Subscribe(wsSubscribeDepth)
	if err != nil {
		return err
	}
	defer cancel()

	// Replay after subscribing so nothing published in between is dropped.
	// A record may arrive on both paths; clients dedupe on sequence.
	backlog, err := s.journal.List(cursor, wsBacklogLimit)
	if err != nil {
		return err
	}
	last := cursor
	for _, record := range backlog {
		if err := writeJournalRecord(ctx, conn, record); err != nil {
			return err
		}
		last = record.Seq
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case record, ok := <-records:
			if !ok {
				return nil
			}
			if record.Seq <= last {
				continue
			}
			if err := writeJournalRecord(ctx, conn, record); err != nil {
				return err
			}
			last = record.Seq
		}
	}
}

func writeJournalRecord(ctx context.Context, conn *websocket.Conn, record journal.Record) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
