// Package admin exposes the coordinator's operational surface over HTTP:
// health, group introspection, shard ownership and Prometheus metrics.
package admin

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/protocol-laboratory/group-coordinator-go/coordinator"
	"github.com/protocol-laboratory/group-coordinator-go/protocol"
)

type Server struct {
	coordinator *coordinator.Coordinator
	httpServer  *http.Server
}

func NewServer(addr string, coord *coordinator.Coordinator) *Server {
	s := &Server{coordinator: coord}
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Get("/health", s.handleHealth)
	router.Get("/groups", s.handleListGroups)
	router.Get("/groups/{groupID}", s.handleDescribeGroup)
	router.Get("/groups/{groupID}/offsets", s.handleGroupOffsets)
	router.Put("/shards/{shardID}", s.handleLoadShard)
	router.Delete("/shards/{shardID}", s.handleUnloadShard)
	router.Handle("/metrics", promhttp.Handler())
	s.httpServer = &http.Server{Addr: addr, Handler: router}
	return s
}

// Handler exposes the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	logrus.Infof("admin server listening on %s", listener.Addr())
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			logrus.Errorf("admin server stopped: %s", err)
		}
	}()
	return nil
}

func (s *Server) Close() error {
	return s.httpServer.Shutdown(context.Background())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type groupOverviewResp struct {
	GroupID      string `json:"groupId"`
	State        string `json:"state"`
	ProtocolType string `json:"protocolType"`
}

func (s *Server) handleListGroups(w http.ResponseWriter, r *http.Request) {
	overviews := s.coordinator.HandleListGroups()
	resp := make([]groupOverviewResp, 0, len(overviews))
	for _, o := range overviews {
		resp = append(resp, groupOverviewResp{
			GroupID:      o.GroupID,
			State:        o.State,
			ProtocolType: o.ProtocolType,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

type memberSummaryResp struct {
	MemberID   string `json:"memberId"`
	ClientID   string `json:"clientId,omitempty"`
	ClientHost string `json:"clientHost,omitempty"`
	Metadata   []byte `json:"metadata,omitempty"`
	Assignment []byte `json:"assignment,omitempty"`
}

type groupSummaryResp struct {
	GroupID      string              `json:"groupId"`
	State        string              `json:"state"`
	ProtocolType string              `json:"protocolType"`
	Protocol     string              `json:"protocol"`
	LeaderID     string              `json:"leaderId"`
	GenerationID int                 `json:"generationId"`
	Members      []memberSummaryResp `json:"members"`
}

func (s *Server) handleDescribeGroup(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupID")
	summary, code := s.coordinator.HandleDescribeGroup(groupID)
	if code != protocol.NONE {
		writeError(w, code)
		return
	}
	resp := groupSummaryResp{
		GroupID:      summary.GroupID,
		State:        summary.State,
		ProtocolType: summary.ProtocolType,
		Protocol:     summary.Protocol,
		LeaderID:     summary.LeaderID,
		GenerationID: summary.GenerationID,
		Members:      make([]memberSummaryResp, 0, len(summary.Members)),
	}
	for _, m := range summary.Members {
		resp.Members = append(resp.Members, memberSummaryResp{
			MemberID:   m.MemberID,
			ClientID:   m.ClientID,
			ClientHost: m.ClientHost,
			Metadata:   m.Metadata,
			Assignment: m.Assignment,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

type offsetResp struct {
	Topic     string `json:"topic"`
	Partition int    `json:"partition"`
	Offset    int64  `json:"offset"`
	Metadata  string `json:"metadata,omitempty"`
}

func (s *Server) handleGroupOffsets(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupID")
	fetched := s.coordinator.HandleOffsetFetch(&protocol.OffsetFetchReq{GroupID: groupID})
	if fetched.ErrorCode != protocol.NONE {
		writeError(w, fetched.ErrorCode)
		return
	}
	resp := make([]offsetResp, 0, len(fetched.Offsets))
	for _, o := range fetched.Offsets {
		resp = append(resp, offsetResp{
			Topic:     o.Topic,
			Partition: o.Partition,
			Offset:    o.Offset,
			Metadata:  o.Metadata,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLoadShard(w http.ResponseWriter, r *http.Request) {
	shardID, err := strconv.Atoi(chi.URLParam(r, "shardID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid shard id"})
		return
	}
	if err := s.coordinator.BecomeShardOwner(r.Context(), shardID); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded"})
}

func (s *Server) handleUnloadShard(w http.ResponseWriter, r *http.Request) {
	shardID, err := strconv.Atoi(chi.URLParam(r, "shardID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid shard id"})
		return
	}
	s.coordinator.ResignShardOwner(shardID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "unloaded"})
}

func writeError(w http.ResponseWriter, code protocol.ErrorCode) {
	status := http.StatusInternalServerError
	switch code {
	case protocol.GROUP_ID_NOT_FOUND:
		status = http.StatusNotFound
	case protocol.NOT_COORDINATOR:
		status = http.StatusMisdirectedRequest
	case protocol.COORDINATOR_LOAD_IN_PROGRESS:
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{"error": code.String()})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logrus.Errorf("write admin response failed: %s", err)
	}
}
