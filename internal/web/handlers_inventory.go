package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/JonMunkholm/stockfeed/internal/core"
	"github.com/JonMunkholm/stockfeed/internal/inventory"
	"github.com/JonMunkholm/stockfeed/internal/logging"
	mw "github.com/JonMunkholm/stockfeed/internal/web/middleware"
)

// sseKeepAlive is how often an idle event stream receives a comment line.
var sseKeepAlive = 30 * time.Second

// InventoryResponse is the body of GET /api/inventory.
type InventoryResponse struct {
	Snapshot core.SnapshotInfo  `json:"snapshot"`
	Count    int                `json:"count"`
	Records  []inventory.Record `json:"records"`
	Stats    inventory.Stats    `json:"stats"`
}

// parseQuery reads the record filters from the query string.
func parseQuery(r *http.Request) inventory.Query {
	q := r.URL.Query()
	return inventory.Query{
		Category: q.Get("category"),
		Location: q.Get("location"),
		Status:   inventory.Status(q.Get("status")),
		Text:     q.Get("q"),
	}
}

// includeHidden reports whether the caller asked for raw records and is
// allowed to see them.
func (s *Server) includeHidden(r *http.Request) bool {
	all, _ := strconv.ParseBool(r.URL.Query().Get("all"))
	return all && mw.HasValidAPIKey(&s.cfg.Security, r)
}

// handleInventory returns the visible records, optionally filtered.
func (s *Server) handleInventory(w http.ResponseWriter, r *http.Request) {
	view, err := s.service.Inventory(r.Context(), s.includeHidden(r))
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	records := inventory.Filter(view.Records, parseQuery(r))
	writeJSON(w, InventoryResponse{
		Snapshot: view.Snapshot.Info(),
		Count:    len(records),
		Records:  records,
		Stats:    view.Stats,
	})
}

// handleStats returns stats over the visible records.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	view, err := s.service.Inventory(r.Context(), s.includeHidden(r))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, view.Stats)
}

// handleSnapshot returns metadata about the committed snapshot.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.service.Store().Current()
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, snap.Info())
}

// handleRefresh runs a manual refresh and returns the new snapshot info.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	ctx := WithRequestMetadata(r.Context(), r)
	logging.FromContext(ctx).Info("manual refresh requested", "actor", core.ActorFromContext(ctx))

	snap, err := s.service.Refresh(ctx, core.TriggerManual)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, snap.Info())
}

// handleEvents streams snapshot commits via Server-Sent Events. The current
// snapshot, if any, is sent first so clients need no extra request.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	ch := s.service.Store().Subscribe()
	defer s.service.Store().Unsubscribe(ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	// Resume support: skip commits the client has already seen
	lastRev, _ := strconv.ParseUint(r.Header.Get("Last-Event-ID"), 10, 64)

	send := func(info core.SnapshotInfo) {
		if info.Revision <= lastRev {
			return
		}
		lastRev = info.Revision
		data, _ := json.Marshal(info)
		fmt.Fprintf(w, "id: %d\nevent: snapshot\ndata: %s\n\n", info.Revision, data)
		flusher.Flush()
	}

	if snap, err := s.service.Store().Current(); err == nil {
		send(snap.Info())
	} else {
		fmt.Fprint(w, ": waiting for first snapshot\n\n")
		flusher.Flush()
	}

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case info, ok := <-ch:
			if !ok {
				return
			}
			send(info)

		case <-keepAlive.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}
