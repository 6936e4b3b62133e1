package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/kuip/provable-sdk/internal/attest"
	"github.com/kuip/provable-sdk/internal/auth"
	xerrors "github.com/kuip/provable-sdk/internal/errors"
	"github.com/kuip/provable-sdk/internal/observability/metrics"
	"github.com/kuip/provable-sdk/pkg/digest"
	"github.com/kuip/provable-sdk/pkg/logger"
	"github.com/kuip/provable-sdk/pkg/proofs"
	"github.com/kuip/provable-sdk/sdk/go/kayros"
)

const maxBodyBytes = 8 << 20

// Sealer 生成带存证信息的信封，*proofs.Prover 实现了该接口。
type Sealer interface {
	Seal(ctx context.Context, data any, alg digest.Algorithm) (*proofs.Envelope, error)
}

// Verifier 校验信封，*proofs.Verifier 实现了该接口。
type Verifier interface {
	Verify(ctx context.Context, env proofs.Envelope, opts proofs.VerifyOptions) (*proofs.Result, error)
}

// Enqueuer 投递异步存证任务，*attest.Service 实现了该接口。
type Enqueuer interface {
	Enqueue(ctx context.Context, data []byte, alg digest.Algorithm) (*attest.Job, error)
}

// Services 汇总网关依赖的组件。为 nil 的组件对应接口返回 503。
type Services struct {
	Prover       Sealer
	Verifier     Verifier
	Records      proofs.RecordFetcher
	Attestations Enqueuer
	// Auth 为空或未配置 Key 时不做认证。
	Auth *auth.Service
	// DefaultAlgorithm 在请求未指定算法时使用。
	DefaultAlgorithm digest.Algorithm
}

// Server 负责暴露 REST 接口，供外部计算摘要、提交存证与校验证明。
type Server struct {
	addr   string
	svc    Services
	logger *slog.Logger
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, svc Services) *Server {
	if !svc.DefaultAlgorithm.Supported() {
		svc.DefaultAlgorithm = digest.DefaultAlgorithm
	}
	return &Server{addr: addr, svc: svc, logger: logger.Named("api")}
}

// Handler 返回注册了全部路由的处理器。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("POST /api/v1/digests", s.route("digests", s.handleDigest, auth.PermComputeDigest))
	mux.Handle("POST /api/v1/proofs", s.route("proofs", s.handleSeal, auth.PermSeal))
	mux.Handle("POST /api/v1/attestations", s.route("attestations", s.handleEnqueue, auth.PermEnqueue))
	mux.Handle("POST /api/v1/verifications", s.route("verifications", s.handleVerify, auth.PermVerify))
	mux.Handle("GET /api/v1/records", s.route("records", s.handleRecord, auth.PermReadRecords))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return mux
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.logger.Info("网关已启动", slog.String("address", s.addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

type payloadRequest struct {
	Data      json.RawMessage `json:"data"`
	Algorithm string          `json:"algorithm,omitempty"`
}

type digestResponse struct {
	Hash      digest.Digest    `json:"hash"`
	Algorithm digest.Algorithm `json:"algorithm"`
}

type jobResponse struct {
	JobID      string           `json:"job_id"`
	Algorithm  digest.Algorithm `json:"algorithm"`
	EnqueuedAt time.Time        `json:"enqueued_at"`
}

type verifyRequest struct {
	Envelope    proofs.Envelope `json:"envelope"`
	CheckRemote bool            `json:"check_remote"`
	// Data 缺省时使用信封自身的 data 字段。
	Data json.RawMessage `json:"data,omitempty"`
}

func (s *Server) handleDigest(w http.ResponseWriter, r *http.Request) {
	value, alg, err := s.decodePayload(r)
	if err != nil {
		writeError(w, err)
		return
	}
	canonical, err := proofs.CanonicalBytes(value)
	if err != nil {
		writeError(w, err)
		return
	}
	d, err := digest.Bytes(canonical, alg)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, digestResponse{Hash: d, Algorithm: alg})
}

func (s *Server) handleSeal(w http.ResponseWriter, r *http.Request) {
	if s.svc.Prover == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "存证服务未初始化"))
		return
	}
	value, alg, err := s.decodePayload(r)
	if err != nil {
		writeError(w, err)
		return
	}
	env, err := s.svc.Prover.Seal(r.Context(), value, alg)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, env)
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	if s.svc.Attestations == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "异步存证未启用"))
		return
	}
	value, alg, err := s.decodePayload(r)
	if err != nil {
		writeError(w, err)
		return
	}
	canonical, err := proofs.CanonicalBytes(value)
	if err != nil {
		writeError(w, err)
		return
	}
	job, err := s.svc.Attestations.Enqueue(r.Context(), canonical, alg)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, jobResponse{JobID: job.ID, Algorithm: job.Algorithm, EnqueuedAt: job.EnqueuedAt})
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	if s.svc.Verifier == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "校验服务未初始化"))
		return
	}
	var req verifyRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	opts := proofs.VerifyOptions{CheckRemote: req.CheckRemote}
	source := req.Envelope.Data
	if len(req.Data) > 0 {
		value, err := decodeValue(req.Data)
		if err != nil {
			writeError(w, err)
			return
		}
		source = value
	}
	if source != nil {
		data, err := proofs.CanonicalBytes(source)
		if err != nil {
			writeError(w, err)
			return
		}
		opts.Data = data
	}

	res, err := s.svc.Verifier.Verify(r.Context(), req.Envelope, opts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleRecord(w http.ResponseWriter, r *http.Request) {
	if s.svc.Records == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "证明服务客户端未初始化"))
		return
	}
	d, err := digest.Parse(r.URL.Query().Get("hash"))
	if err != nil {
		writeError(w, err)
		return
	}
	rec, err := s.svc.Records.FetchRecord(r.Context(), d)
	if err != nil {
		if kayros.IsNotFound(err) {
			writeError(w, xerrors.Wrap(xerrors.CodeNotFound, err, "证明服务中不存在该摘要的记录"))
			return
		}
		writeError(w, err)
		return
	}
	if len(rec.Raw) > 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(rec.Raw)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) decodePayload(r *http.Request) (any, digest.Algorithm, error) {
	var req payloadRequest
	if err := decodeBody(r, &req); err != nil {
		return nil, "", err
	}
	if len(req.Data) == 0 {
		return nil, "", xerrors.New(xerrors.CodeInvalidArgument, "请求缺少 data 字段")
	}
	alg := s.svc.DefaultAlgorithm
	if req.Algorithm != "" {
		parsed, err := digest.ParseAlgorithm(req.Algorithm)
		if err != nil {
			return nil, "", err
		}
		alg = parsed
	}
	value, err := decodeValue(req.Data)
	if err != nil {
		return nil, "", err
	}
	return value, alg, nil
}

func decodeBody(r *http.Request, out any) error {
	r.Body = http.MaxBytesReader(nil, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败")
	}
	return nil
}

func decodeValue(raw json.RawMessage) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var value any
	if err := dec.Decode(&value); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "data 字段解析失败")
	}
	if value == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "data 字段不能为 null")
	}
	return value, nil
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// route 组合认证与指标中间件。被拒绝的请求同样计入指标。
func (s *Server) route(name string, next http.HandlerFunc, perms ...string) http.Handler {
	guard := s.svc.Auth.Middleware(auth.MiddlewareConfig{
		Permissions: perms,
		OnDenied: func(w http.ResponseWriter, _ *http.Request, err error) {
			writeError(w, err)
		},
	})
	return s.instrument(name, guard(next))
}

// instrument 记录请求指标与访问日志。
func (s *Server) instrument(name string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		elapsed := time.Since(start)
		metrics.ObserveHTTPRequest(name, r.Method, rec.status, elapsed)
		s.logger.Debug("api_request",
			slog.String("handler", name),
			slog.String("method", r.Method),
			slog.Int("status", rec.status),
			slog.Duration("duration", elapsed),
		)
	})
}
