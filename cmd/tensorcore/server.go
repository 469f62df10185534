package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/23skdu/longbow-tensorcore/internal/export"
	"github.com/23skdu/longbow-tensorcore/internal/fault"
	"github.com/23skdu/longbow-tensorcore/internal/service"
	"github.com/23skdu/longbow-tensorcore/internal/tensor"
)

const (
	contentTypeCBOR  = "application/cbor"
	contentTypeArrow = "application/vnd.apache.arrow.stream"
)

var requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "tensorcore_http_request_duration_seconds",
	Help:    "Time spent handling HTTP requests",
	Buckets: prometheus.DefBuckets,
}, []string{"route", "code"})

var tracer = otel.Tracer("tensorcore-server")

func newServeCmd(opts *options) *cobra.Command {
	var (
		listen string
		queue  int
		device string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve tensor operators over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dev, err := parseDevice(device)
			if err != nil {
				return errors.Wrap(err, "--device")
			}
			ctx, err := opts.newContext()
			if err != nil {
				return err
			}
			exec := service.NewExecutor(ctx, dev, queue)
			defer exec.Close()

			srv := &http.Server{
				Addr:              listen,
				Handler:           NewServer(exec).Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}
			go func() {
				<-cmd.Context().Done()
				_ = srv.Shutdown(context.Background())
			}()

			log.Info().Str("addr", listen).Str("device", dev.String()).Int("queue", queue).Msg("Starting tensorcore server")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&listen, "listen", envString("TENSORCORE_LISTEN", ":8080"), "Address to listen on")
	cmd.Flags().IntVar(&queue, "queue", envInt("TENSORCORE_QUEUE", 64), "Maximum requests waiting for the executor")
	cmd.Flags().StringVar(&device, "device", envString("TENSORCORE_DEVICE", "cpu"), "Device holding tensors (cpu, nvidia:N)")
	return cmd
}

type Server struct {
	exec  *service.Executor
	alloc memory.Allocator
}

func NewServer(exec *service.Executor) *Server {
	return &Server{
		exec:  exec,
		alloc: memory.NewGoAllocator(),
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /v1/ops/{op}", s.handleOp)
	mux.HandleFunc("PUT /v1/tensors/{name}", s.handlePutTensor)
	mux.HandleFunc("GET /v1/tensors/{name}", s.handleGetTensor)
	mux.HandleFunc("DELETE /v1/tensors/{name}", s.handleDeleteTensor)
	return mux
}

func (s *Server) handleOp(w http.ResponseWriter, r *http.Request) {
	op := r.PathValue("op")
	ctx, span := tracer.Start(r.Context(), "handleOp")
	defer span.End()
	span.SetAttributes(attribute.String("op", op))

	start := time.Now()
	code := http.StatusOK
	defer func() {
		requestDuration.WithLabelValues("ops", fmt.Sprint(code)).Observe(time.Since(start).Seconds())
	}()

	var req service.Request
	if err := service.Decode(r.Body, &req); err != nil {
		span.RecordError(err)
		code = http.StatusBadRequest
		http.Error(w, fmt.Sprintf("Bad Request (CBOR decode): %v", err), code)
		return
	}

	resp, err := s.exec.Execute(ctx, op, &req)
	if err != nil {
		span.RecordError(err)
		code = writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", contentTypeCBOR)
	if err := service.Encode(w, resp); err != nil {
		log.Error().Err(err).Str("op", op).Msg("Failed to write response")
	}
}

func (s *Server) handlePutTensor(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	var wt service.Tensor
	if err := service.Decode(r.Body, &wt); err != nil {
		http.Error(w, fmt.Sprintf("Bad Request (CBOR decode): %v", err), http.StatusBadRequest)
		return
	}
	if err := s.exec.Store(r.Context(), name, wt); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleGetTensor returns the stored tensor as CBOR, or as an Arrow IPC
// stream when the client accepts one or asks for ?format=arrow.
func (s *Server) handleGetTensor(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	asArrow := r.URL.Query().Get("format") == "arrow" || r.Header.Get("Accept") == contentTypeArrow

	if !asArrow {
		wt, err := s.exec.Fetch(r.Context(), name)
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", contentTypeCBOR)
		if err := service.Encode(w, wt); err != nil {
			log.Error().Err(err).Str("tensor", name).Msg("Failed to write tensor")
		}
		return
	}

	builder := export.NewRecordBatchBuilder(s.alloc)
	var streaming bool
	err := s.exec.With(r.Context(), name, func(t *tensor.Tensor) error {
		rec, err := builder.Build(t)
		if err != nil {
			return err
		}
		defer rec.Release()
		w.Header().Set("Content-Type", contentTypeArrow)
		streaming = true
		return export.WriteIPC(w, rec)
	})
	switch {
	case err == nil:
	case streaming:
		// the status line is already out
		log.Error().Err(err).Str("tensor", name).Msg("Failed to write tensor")
	default:
		writeError(w, err)
	}
}

func (s *Server) handleDeleteTensor(w http.ResponseWriter, r *http.Request) {
	if err := s.exec.Drop(r.Context(), r.PathValue("name")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// statusFor maps executor errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrQueueFull), errors.Is(err, service.ErrDeviceUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, service.ErrUnknownTensor):
		return http.StatusNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	switch fault.KindOf(err) {
	case 0, fault.Runtime:
		return http.StatusInternalServerError
	case fault.NotImplemented, fault.UnsupportedDevice:
		return http.StatusNotImplemented
	default:
		return http.StatusBadRequest
	}
}

func writeError(w http.ResponseWriter, err error) int {
	code := statusFor(err)
	if code >= http.StatusInternalServerError && code != http.StatusNotImplemented && code != http.StatusServiceUnavailable {
		log.Error().Err(err).Msg("Request failed")
	}
	http.Error(w, err.Error(), code)
	return code
}
