package guardian

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"os"
	"sync/atomic"
	"time"
)

// DefaultSocketPath is where the Guardian daemon listens by default.
const DefaultSocketPath = "/run/nyx/guardian.sock"

// Server accepts line-delimited JSON requests over a Unix-domain socket
// and answers them with the decision engine.
type Server struct {
	socketPath string
	engine     *DecisionEngine
	watcher    *ConfigWatcher
	startedAt  time.Time

	requestsProcessed uint64
	activeProcesses   int32

	listener net.Listener
}

func NewServer(socketPath string, engine *DecisionEngine) *Server {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}
	return &Server{socketPath: socketPath, engine: engine, startedAt: time.Now()}
}

// NewServerWithReload builds a Server whose DecisionEngine is rebuilt
// automatically whenever configPath changes on disk (fileMonitor-backed
// polling), and manually on a ReqReloadConfig request.
func NewServerWithReload(socketPath, configPath string, audit *AuditLogger, permissive bool) (*Server, error) {
	cw, err := WatchConfig(configPath, audit, permissive)
	if err != nil {
		return nil, err
	}
	s := NewServer(socketPath, cw.Engine())
	s.watcher = cw
	return s, nil
}

// engineFor returns the live DecisionEngine: the watcher's current one
// if reload is enabled, otherwise the engine fixed at construction.
func (s *Server) engineFor() *DecisionEngine {
	if s.watcher != nil {
		return s.watcher.Engine()
	}
	return s.engine
}

// Run listens until ctx is cancelled, accepting and serving connections
// one goroutine per connection. It removes any stale socket file left
// by a prior crashed instance before binding.
func (s *Server) Run(ctx context.Context) error {
	_ = os.Remove(s.socketPath)

	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return err
	}
	s.listener = ln
	defer ln.Close()
	if s.watcher != nil {
		defer s.watcher.Close()
	}

	log.WithField("socket", s.socketPath).Info("guardian listening")

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		go s.serveConn(conn)
	}
}

func (s *Server) serveConn(conn net.Conn) {
	defer conn.Close()
	atomic.AddInt32(&s.activeProcesses, 1)
	defer atomic.AddInt32(&s.activeProcesses, -1)

	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			resp := s.handle(line)
			out, err := json.Marshal(resp)
			if err != nil {
				continue
			}
			out = append(out, '\n')
			if _, werr := conn.Write(out); werr != nil {
				return
			}
			atomic.AddUint64(&s.requestsProcessed, 1)
		}
		if err != nil {
			return
		}
	}
}

func (s *Server) handle(line []byte) WireResponse {
	var req WireRequest
	if err := json.Unmarshal(line, &req); err != nil {
		return WireResponse{Type: RespError, Code: "bad_request", Message: err.Error()}
	}

	switch req.Type {
	case ReqCheckCapability:
		if req.Request == nil {
			return WireResponse{Type: RespError, Code: "bad_request", Message: "missing request"}
		}
		engine := s.engineFor()
		decision := engine.Evaluate(*req.Request)
		engine.RecordDecision(*req.Request, decision, false)
		return WireResponse{
			Type:              RespDecision,
			RequestID:         req.RequestID,
			Decision:          decisionString(decision.Decision, decision.SandboxLevel),
			Reason:            decision.Reason,
			RecommendedAction: decision.RecommendedAction,
		}

	case ReqUserResponse:
		// The decision for a previously prompted request is
		// resolved entirely by the caller's approval; no pending
		// request table is kept server-side in this port.
		decision := FinalDeny
		if req.Approved {
			decision = FinalAllow
		}
		return WireResponse{Type: RespDecision, RequestID: req.RequestID, Decision: string(decision), Reason: "User response recorded"}

	case ReqStatus:
		return WireResponse{
			Type:              RespStatus,
			Version:           "1.0.0",
			UptimeSecs:        uint64(time.Since(s.startedAt).Seconds()),
			RequestsProcessed: atomic.LoadUint64(&s.requestsProcessed),
			ActiveProcesses:   uint32(atomic.LoadInt32(&s.activeProcesses)),
		}

	case ReqQueryPolicy:
		result := s.engineFor().policy.Evaluate(CapabilityRequest{ProcessPath: req.ProcessPath, Capability: req.Capability})
		return WireResponse{Type: RespPolicyResult, Decision: string(result.Decision), AppliesTo: []string{req.ProcessPath}}

	case ReqGetSandboxProfile:
		cfg, err := json.Marshal(s.sandboxProfileByName(req.Level))
		if err != nil {
			return WireResponse{Type: RespError, Code: "internal", Message: err.Error()}
		}
		return WireResponse{Type: RespSandboxProfile, Config: cfg}

	case ReqReloadConfig:
		if s.watcher == nil {
			return WireResponse{Type: RespError, Code: "reload_unsupported", Message: "server was not started with config reload enabled"}
		}
		if err := s.watcher.reload(); err != nil {
			return WireResponse{Type: RespError, Code: "reload_failed", Message: err.Error()}
		}
		return WireResponse{Type: RespOk, Message: "configuration reloaded"}

	case ReqRegisterProcess, ReqUnregisterProcess:
		return WireResponse{Type: RespOk, Message: "acknowledged"}

	case ReqShutdown:
		return WireResponse{Type: RespOk, Message: "shutting down"}

	default:
		return WireResponse{Type: RespError, Code: "unknown_type", Message: "unrecognized request type"}
	}
}

func (s *Server) sandboxProfileByName(name string) SandboxProfile {
	for _, p := range defaultSandboxes() {
		if p.Name == name {
			return p
		}
	}
	return SandboxProfile{}
}
