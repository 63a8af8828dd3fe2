package server

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"

	"github.com/google/uuid"

	"lsmkv/pkg/dberrors"
	"lsmkv/pkg/store"
	"lsmkv/pkg/types"
)

// Engine is the subset of the storage engine the protocol dispatches to.
type Engine interface {
	Put(key types.Key, value types.Value) error
	Delete(key types.Key) error
	BatchPut(keys []types.Key, values []types.Value) error
	Get(key types.Key) (types.Value, error)
	GetRange(start, end types.Key) ([]store.KV, error)
}

// Server accepts TCP connections and speaks the newline-delimited JSON
// protocol against an Engine. Each connection is handled on its own
// goroutine; the engine itself serializes concurrent access.
type Server struct {
	addr   string
	engine Engine
	log    *slog.Logger

	listener net.Listener
}

func New(addr string, engine Engine, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{addr: addr, engine: engine, log: log}
}

// Serve binds the listening socket and accepts connections until the
// listener is closed.
func (s *Server) Serve() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("server: listen on %s: %w", s.addr, err)
	}
	s.listener = ln
	s.log.Info("tcp server listening", "addr", s.addr)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("server: accept: %w", err)
		}
		go s.handleConn(conn)
	}
}

// Close stops accepting new connections.
func (s *Server) Close() error {
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

func (s *Server) handleConn(conn net.Conn) {
	connID := uuid.New().String()
	log := s.log.With("conn_id", connID, "remote_addr", conn.RemoteAddr().String())
	log.Info("client connected")
	defer func() {
		_ = conn.Close()
		log.Info("client disconnected")
	}()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 4096), 16*1024*1024)
	writer := bufio.NewWriter(conn)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		resp := s.dispatch(line, log)

		encoded, err := json.Marshal(resp)
		if err != nil {
			log.Error("failed to encode response", "error", err)
			return
		}
		if _, err := writer.Write(encoded); err != nil {
			log.Warn("failed to write response", "error", err)
			return
		}
		if _, err := writer.WriteString("\n"); err != nil {
			log.Warn("failed to write response", "error", err)
			return
		}
		if err := writer.Flush(); err != nil {
			log.Warn("failed to flush response", "error", err)
			return
		}
	}
	if err := scanner.Err(); err != nil {
		log.Warn("connection read error", "error", err)
	}
}

func (s *Server) dispatch(line string, log *slog.Logger) response {
	var req request
	if err := json.Unmarshal([]byte(line), &req); err != nil {
		return errResponse(fmt.Sprintf("invalid JSON: %v", err))
	}

	switch req.Command {
	case "put":
		return s.handlePut(req, log)
	case "get", "read":
		return s.handleGet(req, log)
	case "delete":
		return s.handleDelete(req, log)
	case "batch_put":
		return s.handleBatchPut(req, log)
	case "get_range", "read_key_range":
		return s.handleGetRange(req, log)
	default:
		log.Warn("unknown command", "command", req.Command)
		return errResponse(fmt.Sprintf("unknown command: %s", req.Command))
	}
}

func (s *Server) handlePut(req request, log *slog.Logger) response {
	if req.Key == "" {
		return errResponse("missing key")
	}
	if err := s.engine.Put([]byte(req.Key), []byte(req.Value)); err != nil {
		return translateError(err, log)
	}
	return ok(true)
}

func (s *Server) handleGet(req request, log *slog.Logger) response {
	if req.Key == "" {
		return errResponse("missing key")
	}
	value, err := s.engine.Get([]byte(req.Key))
	if err != nil {
		if errors.Is(err, dberrors.ErrNotFound) {
			return ok(nil)
		}
		return translateError(err, log)
	}
	return ok(string(value))
}

func (s *Server) handleDelete(req request, log *slog.Logger) response {
	if req.Key == "" {
		return errResponse("missing key")
	}
	if err := s.engine.Delete([]byte(req.Key)); err != nil {
		return translateError(err, log)
	}
	return ok(true)
}

func (s *Server) handleBatchPut(req request, log *slog.Logger) response {
	if req.Keys == nil || req.Values == nil {
		return errResponse("missing keys or values")
	}
	keys := make([]types.Key, len(req.Keys))
	for i, k := range req.Keys {
		keys[i] = []byte(k)
	}
	values := make([]types.Value, len(req.Values))
	for i, v := range req.Values {
		values[i] = []byte(v)
	}
	if err := s.engine.BatchPut(keys, values); err != nil {
		return translateError(err, log)
	}
	return ok(true)
}

func (s *Server) handleGetRange(req request, log *slog.Logger) response {
	if req.Start == "" || req.End == "" {
		return errResponse("missing start_key or end_key")
	}
	kvs, err := s.engine.GetRange([]byte(req.Start), []byte(req.End))
	if err != nil {
		return translateError(err, log)
	}
	result := make([]rangeEntry, len(kvs))
	for i, kv := range kvs {
		result[i] = rangeEntry{Key: string(kv.Key), Value: string(kv.Value)}
	}
	return ok(result)
}

// translateError turns an engine error into a wire response, classifying
// it by errors.Is against pkg/dberrors sentinels rather than by matching
// its message. Durability and corruption failures are operator-actionable
// and get logged at Warn; a bad argument or a closed engine is the
// client's problem and is reported without a server-side log line.
func translateError(err error, log *slog.Logger) response {
	switch {
	case errors.Is(err, dberrors.ErrDurability), errors.Is(err, dberrors.ErrCorruption):
		log.Warn("engine operation failed", "error", err)
	}
	return errResponse(err.Error())
}
