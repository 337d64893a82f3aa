package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/decipher/internal/layout"
	"github.com/ppiankov/decipher/internal/model"
	"github.com/ppiankov/decipher/internal/pipeline"
)

var (
	ingestFrom    string
	ingestOut     string
	ingestTimeout time.Duration
)

// ingestCmd represents the ingest command
var ingestCmd = &cobra.Command{
	Use:   "ingest [source...]",
	Short: "Ingest a batch of research documents into the library and concept graph",
	Long: `Ingest processes documents one at a time:
- Read every source up front (local files or http(s) URLs)
- Extract metadata and key concepts for each document
- Add each document to the library and merge its concepts into the graph
- Skip documents whose extraction fails, and report them at the end

Example:
  decipher ingest paper1.pdf notes.txt https://arxiv.org/abs/1706.03762
  decipher ingest --from sources.txt --out workspace.json`,
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)

	ingestCmd.Flags().StringVar(&ingestFrom, "from", "", "read sources from a file (one per line, # for comments)")
	ingestCmd.Flags().StringVar(&ingestOut, "out", "", "write library, graph and layout to this JSON file")
	ingestCmd.Flags().DurationVar(&ingestTimeout, "timeout", 30*time.Minute, "total timeout for the batch")
}

// Workspace is the JSON export written by `decipher ingest --out`
type Workspace struct {
	GeneratedAt time.Time              `json:"generated_at"`
	Summary     *pipeline.BatchSummary `json:"summary,omitempty"`
	Documents   []model.Document       `json:"documents"`
	Graph       model.GraphSnapshot    `json:"graph"`
	Layout      []layout.NodePosition  `json:"layout"`
}

func runIngest(cmd *cobra.Command, args []string) error {
	sources := append([]string(nil), args...)
	if ingestFrom != "" {
		fromFile, err := readSources(ingestFrom)
		if err != nil {
			return err
		}
		sources = append(sources, fromFile...)
	}
	if len(sources) == 0 {
		return fmt.Errorf("no documents given: pass sources as arguments or use --from")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, ingestTimeout)
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	// Refuse oversized batches before printing anything else
	if err := a.pipeline.CheckBatch(len(sources)); err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "  Decipher Ingestion\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  Documents:    %d (at most %d per batch)\n", len(sources), a.pipeline.MaxBatchSize())
	fmt.Fprintf(os.Stderr, "  LLM:          %s\n", a.service.ProviderName())
	fmt.Fprintf(os.Stderr, "  Call delay:   %v\n", a.cfg.Ingest.InterCallDelay)
	fmt.Fprintf(os.Stderr, "\n")

	inputs := make([]pipeline.DocumentInput, len(sources))
	for i, src := range sources {
		inputs[i] = pipeline.DocumentInput{Source: src}
	}

	summary, runErr := a.pipeline.IngestBatch(ctx, inputs, progressPrinter)
	if summary == nil {
		return runErr
	}

	printSummary(summary)

	if ingestOut != "" {
		positions := settledLayout(a.cfg.Layout, a.graph.Snapshot())
		ws := Workspace{
			GeneratedAt: time.Now().UTC(),
			Summary:     summary,
			Documents:   a.library.List(),
			Graph:       a.graph.Snapshot(),
			Layout:      positions,
		}
		if err := writeWorkspace(ingestOut, ws); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "✓ Workspace written: %s\n\n", ingestOut)
	}

	if runErr != nil {
		return runErr
	}
	if summary.Succeeded == 0 {
		return errors.New("no documents were ingested")
	}
	return nil
}

func printSummary(s *pipeline.BatchSummary) {
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "  Batch Complete (%s)\n", s.Outcome())
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  %s\n", s.String())
	fmt.Fprintf(os.Stderr, "  Concepts:  +%d nodes, +%d relations\n", s.NodesAdded, s.RelationsAdded)
	fmt.Fprintf(os.Stderr, "  Duration:  %v\n", s.Duration().Round(time.Millisecond))
	for _, f := range s.Failures {
		fmt.Fprintf(os.Stderr, "  ✗ %s: %s\n", f.Name, f.Message)
	}
	fmt.Fprintf(os.Stderr, "\n")
}

// settledLayout runs the force simulation offline until it settles or hits MaxTicks
func settledLayout(cfg model.LayoutConfig, snap model.GraphSnapshot) []layout.NodePosition {
	engine := layout.NewEngine(layout.ParamsFromConfig(cfg))
	engine.SetSnapshot(snap)
	maxTicks := cfg.MaxTicks
	if maxTicks <= 0 {
		maxTicks = 1000
	}
	engine.Settle(maxTicks)
	return engine.Positions()
}

// readSources reads one source per line, skipping blanks and # comments
func readSources(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open sources file: %w", err)
	}
	defer func() { _ = f.Close() }()

	var sources []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		sources = append(sources, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read sources file: %w", err)
	}
	return sources, nil
}

func writeWorkspace(path string, ws Workspace) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}
	data, err := json.MarshalIndent(ws, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal workspace: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write workspace: %w", err)
	}
	return nil
}
