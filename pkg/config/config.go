// Package config holds the enumerated configuration of the index
// builder. Validation fails fast, before any clustering or encoding
// work starts.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Element type names accepted for vectors and codes.
const (
	ElemF32 = "f32"
	ElemU8  = "u8"
	ElemI8  = "i8"

	CodeU8  = "u8"
	CodeU16 = "u16"
)

// Config holds all builder configuration.
type Config struct {
	Builder BuilderConfig
	Cluster ClusterConfig
	PQ      PQConfig
}

// BuilderConfig describes the corpus and the block store.
type BuilderConfig struct {
	Dim       int    // Vector dimension
	ElemType  string // Vector element type: f32, u8, i8
	Metric    string // L2 or IP
	K1        int    // Top-level cluster count
	Threshold int    // Leaf capacity in rows
	BlockSize int    // Bytes per data block
}

// ClusterConfig tunes the k-means engine and the hierarchy.
type ClusterConfig struct {
	KMeansPP  bool    // k-means++ seeding (random rows otherwise)
	AvgLen    float32 // Unit-norm centroid length; 0 disables
	Niter     int     // K-means iteration cap
	Seed      int64   // Seed for all clustering randomness
	CapLargeK bool    // Truncate training to 40·k rows when k > 1000

	MaxSameSizeThreshold   int // Upper bucket bound for the merge/equal-size policy
	MinSameSizeThreshold   int // Lower bucket bound for the merge/equal-size policy
	MaxClusterK2           int // Branch factor cap in the free regime
	K2MaxPointsPerCentroid int // Training rows per centroid before sampling kicks in
	KMeansThreshold        int // Node size below which weighted assignment would apply
}

// PQConfig tunes the residual product quantizer.
type PQConfig struct {
	M           uint32 // Subspace count; must divide Dim
	NBits       uint32 // Bits per sub-code; 2^NBits must be a multiple of 32
	CodeType    string // Sub-code element type: u8, u16
	SampleCount int    // Training rows sampled from the leaves
}

// Default returns default configuration for a 128-dim float32 corpus.
func Default() *Config {
	return &Config{
		Builder: BuilderConfig{
			Dim:       128,
			ElemType:  ElemF32,
			Metric:    "L2",
			K1:        64,
			Threshold: 100,
			BlockSize: 1 << 16,
		},
		Cluster: ClusterConfig{
			KMeansPP:  false,
			AvgLen:    0,
			Niter:     10,
			Seed:      1234,
			CapLargeK: true,

			MaxSameSizeThreshold:   4096,
			MinSameSizeThreshold:   1024,
			MaxClusterK2:           12,
			K2MaxPointsPerCentroid: 256,
			KMeansThreshold:        20000,
		},
		PQ: PQConfig{
			M:           32,
			NBits:       8,
			CodeType:    CodeU8,
			SampleCount: 65536,
		},
	}
}

// LoadFromEnv loads configuration from BLOCKANN_* environment
// variables on top of the defaults.
func LoadFromEnv() *Config {
	cfg := Default()

	intVar := func(name string, dst *int) {
		if v := os.Getenv(name); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	intVar("BLOCKANN_DIM", &cfg.Builder.Dim)
	intVar("BLOCKANN_K1", &cfg.Builder.K1)
	intVar("BLOCKANN_THRESHOLD", &cfg.Builder.Threshold)
	intVar("BLOCKANN_BLOCK_SIZE", &cfg.Builder.BlockSize)
	if v := os.Getenv("BLOCKANN_ELEM_TYPE"); v != "" {
		cfg.Builder.ElemType = v
	}
	if v := os.Getenv("BLOCKANN_METRIC"); v != "" {
		cfg.Builder.Metric = v
	}

	if v := os.Getenv("BLOCKANN_KMEANS_PP"); v == "true" {
		cfg.Cluster.KMeansPP = true
	}
	if v := os.Getenv("BLOCKANN_AVG_LEN"); v != "" {
		if f, err := strconv.ParseFloat(v, 32); err == nil {
			cfg.Cluster.AvgLen = float32(f)
		}
	}
	intVar("BLOCKANN_NITER", &cfg.Cluster.Niter)
	if v := os.Getenv("BLOCKANN_SEED"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Cluster.Seed = n
		}
	}
	if v := os.Getenv("BLOCKANN_CAP_LARGE_K"); v == "false" {
		cfg.Cluster.CapLargeK = false
	}
	intVar("BLOCKANN_MAX_SAME_SIZE_THRESHOLD", &cfg.Cluster.MaxSameSizeThreshold)
	intVar("BLOCKANN_MIN_SAME_SIZE_THRESHOLD", &cfg.Cluster.MinSameSizeThreshold)
	intVar("BLOCKANN_MAX_CLUSTER_K2", &cfg.Cluster.MaxClusterK2)
	intVar("BLOCKANN_K2_MAX_POINTS_PER_CENTROID", &cfg.Cluster.K2MaxPointsPerCentroid)
	intVar("BLOCKANN_KMEANS_THRESHOLD", &cfg.Cluster.KMeansThreshold)

	if v := os.Getenv("BLOCKANN_PQ_M"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PQ.M = uint32(n)
		}
	}
	if v := os.Getenv("BLOCKANN_PQ_NBITS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PQ.NBits = uint32(n)
		}
	}
	if v := os.Getenv("BLOCKANN_PQ_CODE_TYPE"); v != "" {
		cfg.PQ.CodeType = v
	}
	intVar("BLOCKANN_PQ_SAMPLE_COUNT", &cfg.PQ.SampleCount)

	return cfg
}

// ElemSize returns the byte width of the configured element type.
func (b *BuilderConfig) ElemSize() int {
	if b.ElemType == ElemF32 {
		return 4
	}
	return 1
}

// EntrySize returns the byte width of one block entry.
func (b *BuilderConfig) EntrySize() int {
	return b.Dim*b.ElemSize() + 4
}

// EntriesPerBlock returns how many entries fit one data block after
// the count header.
func (b *BuilderConfig) EntriesPerBlock() int {
	return (b.BlockSize - 4) / b.EntrySize()
}

// Validate checks the configuration. Every violation here is a
// ConfigError: the build must not start.
func (c *Config) Validate() error {
	b := &c.Builder

	if b.Dim < 1 {
		return fmt.Errorf("invalid dimension: %d (must be > 0)", b.Dim)
	}
	switch b.ElemType {
	case ElemF32, ElemU8, ElemI8:
	default:
		return fmt.Errorf("invalid element type %q (supported: f32, u8, i8)", b.ElemType)
	}
	switch b.Metric {
	case "L2", "l2", "IP", "ip":
	default:
		return fmt.Errorf("invalid metric %q (supported: L2, IP)", b.Metric)
	}
	if b.K1 < 1 || b.K1 > 256 {
		return fmt.Errorf("invalid k1: %d (must be 1-256 to fit the global block id)", b.K1)
	}
	if b.Threshold == 0 {
		return fmt.Errorf("leaf threshold must be > 0")
	}
	if b.BlockSize < 4+b.EntrySize() {
		return fmt.Errorf("block size %d too small to hold one %d-byte entry", b.BlockSize, b.EntrySize())
	}
	if b.Threshold > b.EntriesPerBlock() {
		return fmt.Errorf("leaf threshold %d exceeds block capacity of %d entries", b.Threshold, b.EntriesPerBlock())
	}

	cl := &c.Cluster
	if cl.Niter < 1 {
		return fmt.Errorf("invalid niter: %d (must be > 0)", cl.Niter)
	}
	if cl.MaxClusterK2 < 2 {
		return fmt.Errorf("invalid max cluster k2: %d (must be >= 2)", cl.MaxClusterK2)
	}
	if cl.MinSameSizeThreshold > cl.MaxSameSizeThreshold {
		return fmt.Errorf("min same-size threshold %d exceeds max %d",
			cl.MinSameSizeThreshold, cl.MaxSameSizeThreshold)
	}

	pq := &c.PQ
	if pq.M == 0 || b.Dim%int(pq.M) != 0 {
		return fmt.Errorf("dimension %d is not divisible by m=%d", b.Dim, pq.M)
	}
	if k := 1 << pq.NBits; k%32 != 0 {
		return fmt.Errorf("pq codebook size %d (nbits=%d) must be a multiple of 32", k, pq.NBits)
	}
	if dsub := b.Dim / int(pq.M); dsub > 8 {
		return fmt.Errorf("pq subspace width %d exceeds 8 (dim=%d, m=%d)", b.Dim/int(pq.M), b.Dim, pq.M)
	}
	switch pq.CodeType {
	case CodeU8, CodeU16:
	default:
		return fmt.Errorf("invalid pq code type %q (supported: u8, u16)", pq.CodeType)
	}
	if pq.SampleCount < 1<<pq.NBits {
		return fmt.Errorf("pq sample count %d below codebook size %d", pq.SampleCount, 1<<pq.NBits)
	}

	return nil
}
