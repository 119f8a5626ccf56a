// Command calgo builds feature stores and drives interactive review
// sessions.
//
// Usage:
//
//	calgo build -in corpus.tsv -store corpus.fst [-index corpus.inv]
//	calgo run -config review.yaml
//
// The build input is one document per line: a numeric doc id, a tab, then
// whitespace-separated tokens.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/calgo"
	"github.com/hupe1980/calgo/blobstore"
	"github.com/hupe1980/calgo/classifier"
	"github.com/hupe1980/calgo/feature"
	"github.com/hupe1980/calgo/invindex"
	"github.com/hupe1980/calgo/journal"
	"github.com/hupe1980/calgo/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "build":
		err = runBuild(ctx, os.Args[2:])
	case "run":
		err = runSession(ctx, os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "calgo:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage:
  calgo build -in corpus.tsv -store corpus.fst [-index corpus.inv] [-feature-range N] [-compression none|lz4|zstd]
  calgo run -config review.yaml`)
}

func runBuild(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("build", flag.ExitOnError)
	var (
		in           = fs.String("in", "-", "input file, '-' for stdin")
		storePath    = fs.String("store", "", "output store path (required)")
		indexPath    = fs.String("index", "", "optional inverted index output path")
		featureRange = fs.Uint("feature-range", feature.DefaultRange, "feature-space size before prime promotion")
		compression  = fs.String("compression", "none", "posting-block codec: none, lz4 or zstd")
		ioLimit      = fs.Int("io-limit", 0, "index build write limit in bytes/sec, 0 for unlimited")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *storePath == "" {
		return fmt.Errorf("build: -store is required")
	}

	codec, err := parseCompression(*compression)
	if err != nil {
		return err
	}

	r := os.Stdin
	if *in != "-" {
		f, err := os.Open(*in)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}

	hasher := feature.NewHasher(uint32(*featureRange))
	w, err := store.NewWriter(*storePath, hasher.Range())
	if err != nil {
		return err
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)

	var docs int
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		docID, tokens, err := parseLine(line)
		if err != nil {
			w.Abort()
			return fmt.Errorf("build: line %d: %w", docs+1, err)
		}
		if err := w.Add(docID, feature.FromTokens(tokens, hasher)); err != nil {
			w.Abort()
			return err
		}
		docs++
	}
	if err := scanner.Err(); err != nil {
		w.Abort()
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "wrote %s: %d documents, feature range %d\n", *storePath, docs, hasher.Range())

	if *indexPath == "" {
		return nil
	}

	s, err := store.Open(*storePath)
	if err != nil {
		return err
	}
	defer s.Close()

	err = invindex.Build(ctx, s, *indexPath, func(o *invindex.BuildOptions) {
		o.Compression = codec
		o.IOLimitBytesPerSec = *ioLimit
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "wrote %s\n", *indexPath)
	return nil
}

func parseLine(line string) (uint64, []string, error) {
	id, rest, ok := strings.Cut(line, "\t")
	if !ok {
		return 0, nil, fmt.Errorf("missing tab separator")
	}
	docID, err := strconv.ParseUint(strings.TrimSpace(id), 10, 64)
	if err != nil {
		return 0, nil, fmt.Errorf("bad doc id %q: %w", id, err)
	}
	return docID, strings.Fields(rest), nil
}

func parseCompression(name string) (invindex.CompressionType, error) {
	switch name {
	case "none":
		return invindex.CompressionNone, nil
	case "lz4":
		return invindex.CompressionLZ4, nil
	case "zstd":
		return invindex.CompressionZSTD, nil
	default:
		return 0, fmt.Errorf("unknown compression %q", name)
	}
}

// runConfig is the yaml configuration for the run subcommand. Zero values
// fall back to library defaults.
type runConfig struct {
	Store      string `yaml:"store"`
	Index      string `yaml:"index"`
	Journal    string `yaml:"journal"`
	Checkpoint string `yaml:"checkpoint_dir"`
	BatchSize  int    `yaml:"batch_size"`
	Strategy   string `yaml:"strategy"`
	LogLevel   string `yaml:"log_level"`

	// Seeds are presented for review first when the journal is empty.
	Seeds []uint64 `yaml:"seeds"`

	Hyperparameters struct {
		LearningRate  float64 `yaml:"learning_rate"`
		L2            float64 `yaml:"l2"`
		MaxIterations int     `yaml:"max_iterations"`
		Tolerance     float64 `yaml:"tolerance"`
	} `yaml:"hyperparameters"`

	Stopping struct {
		NonRelevantStreak int `yaml:"non_relevant_streak"`
		ReviewQuota       int `yaml:"review_quota"`
	} `yaml:"stopping"`
}

func loadConfig(path string) (*runConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg runConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if cfg.Store == "" {
		return nil, fmt.Errorf("%s: store is required", path)
	}
	if cfg.Journal == "" {
		return nil, fmt.Errorf("%s: journal is required", path)
	}
	return &cfg, nil
}

var errQuit = errors.New("quit")

func runSession(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "yaml session config (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *configPath == "" {
		return fmt.Errorf("run: -config is required")
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	s, err := store.Open(cfg.Store)
	if err != nil {
		return err
	}
	defer s.Close()

	j, err := journal.Open(cfg.Journal)
	if err != nil {
		return err
	}
	defer j.Close()

	opts, err := sessionOptions(cfg)
	if err != nil {
		return err
	}
	var idxClose func()
	if cfg.Index != "" {
		idx, err := invindex.Open(cfg.Index)
		if err != nil {
			return err
		}
		idxClose = func() { _ = idx.Close() }
		opts = append(opts, calgo.WithIndex(idx))
	}
	if idxClose != nil {
		defer idxClose()
	}

	sess, err := calgo.NewSession(ctx, s, j, opts...)
	if err != nil {
		return err
	}

	stdin := bufio.NewScanner(os.Stdin)
	reason, err := sess.Run(ctx, func(docID uint64) (journal.Label, error) {
		return prompt(sess, stdin, docID)
	})
	if errors.Is(err, errQuit) {
		stats := sess.Stats()
		fmt.Printf("paused: %d reviewed, %d relevant\n", stats.Reviewed, stats.Relevant)
		return nil
	}
	if err != nil {
		return err
	}

	stats := sess.Stats()
	fmt.Printf("stopped (%s): %d reviewed, %d relevant\n", reason, stats.Reviewed, stats.Relevant)
	return nil
}

func prompt(sess *calgo.Session, stdin *bufio.Scanner, docID uint64) (journal.Label, error) {
	score, err := sess.Score(docID)
	if err != nil {
		return 0, err
	}
	for {
		fmt.Printf("doc %d (score %.4f) relevant? [y/n/q] ", docID, score)
		if !stdin.Scan() {
			return 0, errQuit
		}
		switch strings.ToLower(strings.TrimSpace(stdin.Text())) {
		case "y", "yes":
			return journal.Relevant, nil
		case "n", "no":
			return journal.NonRelevant, nil
		case "q", "quit":
			return 0, errQuit
		}
	}
}

func sessionOptions(cfg *runConfig) ([]calgo.Option, error) {
	var opts []calgo.Option

	level := slog.LevelInfo
	switch strings.ToLower(cfg.LogLevel) {
	case "", "info":
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level %q", cfg.LogLevel)
	}
	opts = append(opts, calgo.WithLogger(calgo.NewTextLogger(level)))

	switch strings.ToLower(cfg.Strategy) {
	case "", "auto":
	case "stream":
		opts = append(opts, calgo.WithStrategy(calgo.StrategyStream))
	case "postings":
		opts = append(opts, calgo.WithStrategy(calgo.StrategyPostings))
	default:
		return nil, fmt.Errorf("unknown strategy %q", cfg.Strategy)
	}

	if cfg.BatchSize > 0 {
		opts = append(opts, calgo.WithBatchSize(cfg.BatchSize))
	}
	if len(cfg.Seeds) > 0 {
		opts = append(opts, calgo.WithSeedDocuments(cfg.Seeds))
	}

	hyper := classifier.DefaultHyperparameters
	if cfg.Hyperparameters.LearningRate > 0 {
		hyper.LearningRate = cfg.Hyperparameters.LearningRate
	}
	if cfg.Hyperparameters.L2 > 0 {
		hyper.L2 = cfg.Hyperparameters.L2
	}
	if cfg.Hyperparameters.MaxIterations > 0 {
		hyper.MaxIterations = cfg.Hyperparameters.MaxIterations
	}
	if cfg.Hyperparameters.Tolerance > 0 {
		hyper.Tolerance = cfg.Hyperparameters.Tolerance
	}
	opts = append(opts, calgo.WithHyperparameters(hyper))

	stopping := calgo.DefaultStoppingRule
	if cfg.Stopping.NonRelevantStreak > 0 {
		stopping.NonRelevantStreak = cfg.Stopping.NonRelevantStreak
	}
	if cfg.Stopping.ReviewQuota > 0 {
		stopping.ReviewQuota = cfg.Stopping.ReviewQuota
	}
	opts = append(opts, calgo.WithStoppingRule(stopping))

	if cfg.Checkpoint != "" {
		opts = append(opts, calgo.WithCheckpointStore(blobstore.NewLocalStore(cfg.Checkpoint), "model.ckpt"))
	}
	return opts, nil
}
