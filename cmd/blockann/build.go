package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/therealutkarshpriyadarshi/blockann/internal/distance"
	"github.com/therealutkarshpriyadarshi/blockann/internal/quantization"
	"github.com/therealutkarshpriyadarshi/blockann/pkg/builder"
	"github.com/therealutkarshpriyadarshi/blockann/pkg/config"
	"github.com/therealutkarshpriyadarshi/blockann/pkg/observability"
	"github.com/therealutkarshpriyadarshi/blockann/pkg/telemetry"
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build the block store and RPQ artifacts from a vector file",
	Long: `Build reads a binary vector file (u32 count, u32 dim header followed
by row-major payload of the configured element type), clusters it into
fixed-size blocks, and writes all index artifacts into the output
directory.`,
	RunE: runBuild,
}

func init() {
	rootCmd.AddCommand(buildCmd)

	buildCmd.Flags().String("input", "", "input vector file (required)")
	buildCmd.Flags().String("out", ".", "output directory for all artifacts")
	buildCmd.Flags().String("elem-type", "f32", "vector element type: f32, u8, i8")
	buildCmd.Flags().String("metric", "L2", "distance metric: L2, IP")
	buildCmd.Flags().Int("k1", 64, "top-level cluster count")
	buildCmd.Flags().Int("threshold", 100, "leaf capacity in rows")
	buildCmd.Flags().Int("block-size", 1<<16, "bytes per data block")
	buildCmd.Flags().Bool("kmpp", false, "use k-means++ seeding")
	buildCmd.Flags().Float32("avg-len", 0, "unit-norm centroid length (0 disables)")
	buildCmd.Flags().Int("niter", 10, "k-means iteration cap")
	buildCmd.Flags().Int64("seed", 1234, "random seed")
	buildCmd.Flags().Uint32("pq-m", 32, "product quantizer subspaces")
	buildCmd.Flags().Uint32("pq-nbits", 8, "bits per sub-code")
	buildCmd.Flags().String("pq-code-type", "u8", "sub-code element type: u8, u16")
	buildCmd.Flags().Int("pq-sample-count", 65536, "training rows sampled from the leaves")
	buildCmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address during the build")
	buildCmd.Flags().Bool("trace", false, "enable OpenTelemetry tracing")
	buildCmd.Flags().String("trace-exporter", "stdout", "trace exporter: otlp, stdout, none")
	buildCmd.Flags().String("trace-endpoint", "localhost:4317", "OTLP collector endpoint")

	_ = buildCmd.MarkFlagRequired("input")
	_ = viper.BindPFlags(buildCmd.Flags())
}

func buildConfig() *config.Config {
	cfg := config.LoadFromEnv()

	cfg.Builder.ElemType = viper.GetString("elem-type")
	cfg.Builder.Metric = viper.GetString("metric")
	cfg.Builder.K1 = viper.GetInt("k1")
	cfg.Builder.Threshold = viper.GetInt("threshold")
	cfg.Builder.BlockSize = viper.GetInt("block-size")
	cfg.Cluster.KMeansPP = viper.GetBool("kmpp")
	cfg.Cluster.AvgLen = float32(viper.GetFloat64("avg-len"))
	cfg.Cluster.Niter = viper.GetInt("niter")
	cfg.Cluster.Seed = viper.GetInt64("seed")
	cfg.PQ.M = viper.GetUint32("pq-m")
	cfg.PQ.NBits = viper.GetUint32("pq-nbits")
	cfg.PQ.CodeType = viper.GetString("pq-code-type")
	cfg.PQ.SampleCount = viper.GetInt("pq-sample-count")

	return cfg
}

func runBuild(cmd *cobra.Command, args []string) error {
	if viper.GetBool("verbose") {
		observability.Global().SetLevel(observability.LevelDebug)
	}

	cfg := buildConfig()

	if addr := viper.GetString("metrics-addr"); addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		go func() {
			if err := http.ListenAndServe(addr, mux); err != nil {
				observability.Warnf("metrics listener: %v", err)
			}
		}()
	}

	ctx := context.Background()
	provider, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:     viper.GetBool("trace"),
		Exporter:    viper.GetString("trace-exporter"),
		Endpoint:    viper.GetString("trace-endpoint"),
		SampleRate:  1.0,
		ServiceName: "blockann",
		Insecure:    true,
	})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer provider.Shutdown(ctx)

	out := viper.GetString("out")
	if err := os.MkdirAll(out, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	switch cfg.Builder.ElemType {
	case config.ElemF32:
		return buildTyped[float32](ctx, cfg, provider, out)
	case config.ElemU8:
		return buildTyped[uint8](ctx, cfg, provider, out)
	case config.ElemI8:
		return buildTyped[int8](ctx, cfg, provider, out)
	default:
		return fmt.Errorf("unknown element type %q", cfg.Builder.ElemType)
	}
}

func buildTyped[T distance.Elem](ctx context.Context, cfg *config.Config, provider *telemetry.Provider, out string) error {
	switch cfg.PQ.CodeType {
	case config.CodeU8:
		return buildRun[T, uint8](ctx, cfg, provider, out)
	case config.CodeU16:
		return buildRun[T, uint16](ctx, cfg, provider, out)
	default:
		return fmt.Errorf("unknown pq code type %q", cfg.PQ.CodeType)
	}
}

func buildRun[T distance.Elem, U quantization.Code](ctx context.Context, cfg *config.Config, provider *telemetry.Provider, out string) error {
	ds, err := loadMatrix[T](viper.GetString("input"))
	if err != nil {
		return err
	}
	cfg.Builder.Dim = ds.Dim

	metrics := observability.NewMetrics()
	progress := newProgressReporter()
	defer progress.finish()

	b, err := builder.New[T, U](cfg,
		builder.WithMetrics[T, U](metrics),
		builder.WithTelemetry[T, U](provider),
		builder.WithProgress[T, U](progress.report),
	)
	if err != nil {
		return err
	}

	stats, err := b.Build(ctx, ds, builder.DefaultArtifacts(out))
	if err != nil {
		observability.Fatalf("build failed: %v", err)
	}
	progress.finish()

	fmt.Fprintf(os.Stderr, "built %d blocks from %d vectors (%d packed, %d duplicated)\n",
		stats.Blocks, stats.N, stats.VectorsPacked, stats.DuplicatedRows)
	return nil
}

// progressReporter drives one progress bar per build phase.
type progressReporter struct {
	phase string
	bar   *progressbar.ProgressBar
}

func newProgressReporter() *progressReporter {
	return &progressReporter{}
}

func (p *progressReporter) report(phase string, done, total int) {
	if phase != p.phase {
		p.finish()
		p.phase = phase
		p.bar = progressbar.NewOptions64(
			int64(total),
			progressbar.OptionSetDescription(phase),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
	}
	if p.bar != nil {
		_ = p.bar.Set64(int64(done))
	}
}

func (p *progressReporter) finish() {
	if p.bar != nil {
		_ = p.bar.Finish()
		p.bar = nil
		p.phase = ""
	}
}
