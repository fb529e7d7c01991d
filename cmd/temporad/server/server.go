// Package server is the HTTP façade in front of a single in-process
// engine.Engine: JSON endpoints for encrypt/verify/status/reset plus a
// websocket stream of release/reset events, wrapped in the same
// recover/request-id/logging middleware chain the teacher's relay uses.
package server

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/google/uuid"

	domaininterfaces "github.com/tempora-project/tempora/internal/domain/interfaces"
	domaintypes "github.com/tempora-project/tempora/internal/domain/types"
	"github.com/tempora-project/tempora/internal/engine"
)

const (
	readHeaderTO   = 5 * time.Second
	readTO         = 10 * time.Second
	writeTO        = 10 * time.Second
	idleTO         = 60 * time.Second
	maxRequestBody = 1 << 20 // 1 MiB cap for incoming JSON bodies
)

type ctxKey string

const ctxKeyReqID ctxKey = "reqid"

// Server owns the HTTP mux, the engine, metrics, and the set of connected
// status-stream subscribers.
type Server struct {
	engine     domaininterfaces.Engine
	log        *zap.Logger
	allowReset bool

	metrics metrics

	upgrader websocket.Upgrader

	subsMu sync.Mutex
	subs   map[chan statusEvent]struct{}
}

type metrics struct {
	encrypts   prometheus.Counter
	releases   prometheus.Counter
	rejections *prometheus.CounterVec
	currentT   prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) metrics {
	m := metrics{
		encrypts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tempora_encrypts_total",
			Help: "Total EncryptForWindow calls that succeeded.",
		}),
		releases: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tempora_releases_total",
			Help: "Total VerifyAndRelease calls that succeeded.",
		}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tempora_rejections_total",
			Help: "Total requests rejected, labeled by engine error kind.",
		}, []string{"kind"}),
		currentT: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tempora_current_tick",
			Help: "The engine's current logical tick.",
		}),
	}
	reg.MustRegister(m.encrypts, m.releases, m.rejections, m.currentT)
	return m
}

// New builds a Server around eng, registering Prometheus collectors against
// reg (pass prometheus.NewRegistry() for isolated tests). allowReset gates
// POST /v1/reset — leave false in any real deployment.
func New(eng domaininterfaces.Engine, log *zap.Logger, reg prometheus.Registerer, allowReset bool) *Server {
	return &Server{
		engine:     eng,
		log:        log,
		allowReset: allowReset,
		metrics:    newMetrics(reg),
		upgrader:   websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
		subs:       make(map[chan statusEvent]struct{}),
	}
}

// Handler returns the fully wired http.Handler: all routes behind
// recover -> request-id -> logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/encrypt", chain(s.handleEncrypt, withRecover(s.log), withReqID, withLogging(s.log)))
	mux.HandleFunc("POST /v1/verify", chain(s.handleVerify, withRecover(s.log), withReqID, withLogging(s.log)))
	mux.HandleFunc("GET /v1/status", chain(s.handleStatus, withRecover(s.log), withReqID, withLogging(s.log)))
	mux.HandleFunc("POST /v1/reset", chain(s.handleReset, withRecover(s.log), withReqID, withLogging(s.log)))
	mux.HandleFunc("GET /v1/stream", chain(s.handleStream, withRecover(s.log), withReqID))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	return mux
}

// NewHTTPServer wraps Handler() in an *http.Server with the teacher's
// timeout defaults.
func (s *Server) NewHTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTO,
		ReadTimeout:       readTO,
		WriteTimeout:      writeTO,
		IdleTimeout:       idleTO,
	}
}

// --- request/response DTOs ---

type encryptRequest struct {
	PlaintextHex string `json:"plaintext_hex"`
	Start        uint64 `json:"t_start"`
	End          uint64 `json:"t_end"`
	RequestNonce string `json:"request_nonce"`
}

type encryptResponse struct {
	Ciphertext   string `json:"ciphertext"`
	Nonce        string `json:"nonce"`
	Start        uint64 `json:"t_start"`
	End          uint64 `json:"t_end"`
	PublicSeed   string `json:"public_seed"`
	PublicSalt   string `json:"public_salt"`
	RequestNonce string `json:"request_nonce"`
}

type verifyRequest struct {
	ChecksumHex  string `json:"checksum_hex"`
	Start        uint64 `json:"t_start"`
	End          uint64 `json:"t_end"`
	RequestNonce string `json:"request_nonce"`
}

type verifyResponse struct {
	KPublic  string `json:"k_public"`
	KPrivate string `json:"k_private"`
}

type statusResponse struct {
	CurrentTick   uint64 `json:"current_t"`
	PublicHistLen int    `json:"public_history_len"`
}

type statusEvent struct {
	Type        string `json:"type"` // "release" or "reset"
	CurrentTick uint64 `json:"current_tick"`
}

// --- handlers ---

func (s *Server) handleEncrypt(w http.ResponseWriter, r *http.Request) {
	var req encryptRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if req.RequestNonce == "" {
		writeErr(w, http.StatusBadRequest, "request_nonce is required")
		return
	}

	if err := s.engine.Refresh(r.Context()); err != nil {
		s.reject(w, err)
		return
	}

	pt, err := hex.DecodeString(req.PlaintextHex)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "plaintext_hex is not valid hex")
		return
	}

	bundle, err := s.engine.EncryptForWindow(r.Context(), pt, domaintypes.Window{
		Start: domaintypes.Tick(req.Start),
		End:   domaintypes.Tick(req.End),
	})
	if err != nil {
		s.reject(w, err)
		return
	}
	s.metrics.encrypts.Inc()

	writeJSON(w, encryptResponse{
		Ciphertext:   hex.EncodeToString(bundle.Ciphertext),
		Nonce:        hex.EncodeToString(bundle.Nonce[:]),
		Start:        uint64(bundle.Start),
		End:          uint64(bundle.End),
		PublicSeed:   hex.EncodeToString(bundle.PublicSeed[:]),
		PublicSalt:   hex.EncodeToString(bundle.PublicSalt[:]),
		RequestNonce: req.RequestNonce,
	})
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if req.RequestNonce == "" {
		writeErr(w, http.StatusBadRequest, "request_nonce is required")
		return
	}

	checksumBytes, err := hex.DecodeString(req.ChecksumHex)
	if err != nil || len(checksumBytes) != 32 {
		writeErr(w, http.StatusBadRequest, "checksum_hex must decode to 32 bytes")
		return
	}
	var checksum [32]byte
	copy(checksum[:], checksumBytes)

	if err := s.engine.Refresh(r.Context()); err != nil {
		s.reject(w, err)
		return
	}

	released, err := s.engine.VerifyAndRelease(r.Context(), checksum, domaintypes.Window{
		Start: domaintypes.Tick(req.Start),
		End:   domaintypes.Tick(req.End),
	})
	if err != nil {
		s.reject(w, err)
		return
	}
	s.metrics.releases.Inc()
	s.publish(statusEvent{Type: "release", CurrentTick: uint64(req.End) + 1})

	writeJSON(w, verifyResponse{
		KPublic:  hex.EncodeToString(released.KPublic[:]),
		KPrivate: hex.EncodeToString(released.KPrivate[:]),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Refresh(r.Context()); err != nil {
		s.reject(w, err)
		return
	}
	current, histLen := s.engine.Status()
	s.metrics.currentT.Set(float64(current))
	writeJSON(w, statusResponse{CurrentTick: uint64(current), PublicHistLen: histLen})
}

// handleReset destroys all state and starts over at tick 0. Development
// only — refuses unless the server was built with allowReset set.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if !s.allowReset {
		writeErr(w, http.StatusForbidden, "reset is disabled")
		return
	}
	if err := s.engine.Reset(r.Context()); err != nil {
		s.reject(w, err)
		return
	}
	current, histLen := s.engine.Status()
	s.metrics.currentT.Set(float64(current))
	s.publish(statusEvent{Type: "reset", CurrentTick: uint64(current)})
	writeJSON(w, statusResponse{CurrentTick: uint64(current), PublicHistLen: histLen})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ch := make(chan statusEvent, 16)
	s.subsMu.Lock()
	s.subs[ch] = struct{}{}
	s.subsMu.Unlock()
	defer func() {
		s.subsMu.Lock()
		delete(s.subs, ch)
		s.subsMu.Unlock()
		close(ch)
	}()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
	}
}

func (s *Server) publish(ev statusEvent) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- ev:
		default:
			// Slow subscriber; drop rather than block the request path.
		}
	}
}

// reject maps an engine error to an HTTP status, incrementing the rejection
// counter labeled with the engine.Kind when one is available.
func (s *Server) reject(w http.ResponseWriter, err error) {
	var engErr *engine.Error
	if errors.As(err, &engErr) {
		s.metrics.rejections.WithLabelValues(engErr.Kind.String()).Inc()
		switch engErr.Kind {
		case engine.KindInvalidWindow, engine.KindWindowTooFarInFuture, engine.KindInvalidChecksum:
			writeErr(w, http.StatusBadRequest, engErr.Error())
		case engine.KindWindowPassed, engine.KindWindowExpired:
			writeErr(w, http.StatusGone, engErr.Error())
		case engine.KindTooEarly:
			writeErr(w, http.StatusConflict, engErr.Error())
		case engine.KindStateCorruption:
			s.log.Fatal("persistent state corruption", zap.Error(engErr))
		default:
			writeErr(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	s.metrics.rejections.WithLabelValues("unknown").Inc()
	writeErr(w, http.StatusInternalServerError, "internal error")
}

// --- middleware, grounded on the teacher's relay middleware chain ---

type loggingResponseWriter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.status = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Write(p []byte) (int, error) {
	if lrw.status == 0 {
		lrw.status = http.StatusOK
	}
	n, err := lrw.ResponseWriter.Write(p)
	lrw.bytes += n
	return n, err
}

func withRecover(log *zap.Logger) func(http.HandlerFunc) http.HandlerFunc {
	return func(h http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					writeErr(w, http.StatusInternalServerError, "internal error")
					log.Error("panic", zap.Any("recovered", rec))
				}
			}()
			h(w, r)
		}
	}
}

func withReqID(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		ctx := context.WithValue(r.Context(), ctxKeyReqID, id)
		h(w, r.WithContext(ctx))
	}
}

func withLogging(log *zap.Logger) func(http.HandlerFunc) http.HandlerFunc {
	return func(h http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			lrw := &loggingResponseWriter{ResponseWriter: w}
			h(lrw, r)
			log.Info("access",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("remote", clientIP(r)),
				zap.Int("status", lrw.status),
				zap.Int("bytes", lrw.bytes),
				zap.Duration("dur", time.Since(start)),
				zap.String("reqid", requestIDFromCtx(r.Context())),
			)
		}
	}
}

func chain(h http.HandlerFunc, mws ...func(http.HandlerFunc) http.HandlerFunc) http.HandlerFunc {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func requestIDFromCtx(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyReqID).(string); ok {
		return v
	}
	return ""
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func writeErr(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	defer r.Body.Close()
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeErr(w, http.StatusBadRequest, "bad request")
		return false
	}
	return true
}
