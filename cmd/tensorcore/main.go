package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"

	"github.com/23skdu/longbow-tensorcore/internal/devrt"
)

// options shared by every subcommand.
type options struct {
	logLevel string
	logJSON  bool
	otel     bool
	memLimit string

	shutdown func(context.Context) error
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Caller().Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		log.Fatal().Err(err).Msg("tensorcore failed")
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "tensorcore",
		Short:         "Inference tensor kernels as a library, a service and a self-check",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.setup()
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if opts.shutdown == nil {
				return nil
			}
			return opts.shutdown(cmd.Context())
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.logLevel, "log-level", envString("TENSORCORE_LOG_LEVEL", "info"), "Log level (trace, debug, info, warn, error)")
	flags.BoolVar(&opts.logJSON, "log-json", envBool("TENSORCORE_LOG_JSON", false), "Log JSON lines instead of console output")
	flags.BoolVar(&opts.otel, "otel", envBool("TENSORCORE_OTEL", false), "Enable OpenTelemetry tracing (stdout)")
	flags.StringVar(&opts.memLimit, "mem-limit", envString("TENSORCORE_MEM_LIMIT", "0"), "Host memory limit for tensor storage (e.g. 4GB, 512MiB; 0 for none)")

	root.AddCommand(newServeCmd(opts), newCheckCmd(opts))
	return root
}

func (o *options) setup() error {
	level, err := zerolog.ParseLevel(strings.ToLower(o.logLevel))
	if err != nil {
		return errors.Wrapf(err, "--log-level")
	}
	zerolog.SetGlobalLevel(level)
	if o.logJSON {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Caller().Logger()
	}

	if o.otel {
		shutdown, err := initTracer()
		if err != nil {
			return errors.Wrap(err, "init tracer")
		}
		o.shutdown = shutdown
		log.Info().Msg("OpenTelemetry tracing enabled")
	}
	return nil
}

// newContext builds the device context with the configured host memory limit.
func (o *options) newContext() (*devrt.Context, error) {
	limit, err := parseBytes(o.memLimit)
	if err != nil {
		return nil, errors.Wrapf(err, "--mem-limit")
	}
	if limit > 0 {
		log.Info().Str("limit", humanize.IBytes(uint64(limit))).Msg("host memory limit")
	}
	return devrt.NewContext(devrt.NewCPUAPI(limit), devrt.NewNVIDIAStub()), nil
}

func parseBytes(s string) (int64, error) {
	if s == "" || s == "0" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, err
	}
	return int64(n), nil
}

// parseDevice accepts "cpu", "nvidia" or "nvidia:1".
func parseDevice(s string) (devrt.Device, error) {
	name, id, found := strings.Cut(s, ":")
	dt, err := devrt.ParseDeviceType(name)
	if err != nil {
		return devrt.Device{}, err
	}
	dev := devrt.Device{Type: dt}
	if found {
		if dev.ID, err = strconv.Atoi(id); err != nil || dev.ID < 0 {
			return devrt.Device{}, errors.Errorf("bad device id in %q", s)
		}
	}
	return dev, nil
}

func envString(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func envInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func initTracer() (func(context.Context) error, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String("tensorcore"),
		)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return tp.Shutdown, nil
}
