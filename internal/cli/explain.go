package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/decipher/internal/extract"
	"github.com/ppiankov/decipher/internal/model"
	"github.com/ppiankov/decipher/internal/pipeline"
	"github.com/ppiankov/decipher/internal/resolver"
)

var (
	explainDoc     string
	explainLevel   string
	explainTimeout time.Duration
)

// explainCmd represents the explain command
var explainCmd = &cobra.Command{
	Use:   "explain <term>",
	Short: "Explain a term in the context of a document",
	Long: `Explain a selected term or phrase at a reading level.
The explanation is grounded in the text surrounding the term in --doc.

Levels:
  beginner   written for a primary school student
  standard   written for a high school student
  expert     written for a PhD researcher

Example:
  decipher explain --doc attention.pdf "multi-head attention"
  decipher explain --doc https://arxiv.org/abs/1706.03762 --level expert softmax`,
	Args: cobra.MinimumNArgs(1),
	RunE: runExplain,
}

func init() {
	rootCmd.AddCommand(explainCmd)

	explainCmd.Flags().StringVar(&explainDoc, "doc", "", "document providing the context (file path or URL)")
	explainCmd.Flags().StringVar(&explainLevel, "level", "", "reading level: beginner, standard, expert (default: explain.default_level)")
	explainCmd.Flags().DurationVar(&explainTimeout, "timeout", 2*time.Minute, "timeout for the explanation")
	_ = explainCmd.MarkFlagRequired("doc")
}

func runExplain(cmd *cobra.Command, args []string) error {
	term := strings.Join(args, " ")

	ctx, cancel := context.WithTimeout(context.Background(), explainTimeout)
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	level := a.cfg.Explain.DefaultLevel
	if explainLevel != "" {
		if level, err = model.ParseLevel(explainLevel); err != nil {
			return err
		}
	}

	loaded, err := a.loader.Load(ctx, []pipeline.DocumentInput{{Source: explainDoc}})
	if err != nil {
		return fmt.Errorf("load document: %w", err)
	}
	doc := loaded[0]
	text := extract.NewDeriver(a.cfg.Ingest.MinTextLength).Derive(doc.Name, doc.ContentType, doc.Data)
	if text.Placeholder && verbose {
		fmt.Fprintf(os.Stderr, "Warning: %s: %s, explaining without document context\n", doc.Name, text.Reason)
	}

	r := a.newResolver()
	defer r.Close()

	if verbose {
		fmt.Fprintf(os.Stderr, "Explaining %q (%s) from %s\n", term, level, doc.Name)
	}
	r.Request(term, text.Body, level)

	view, err := r.Await(ctx)
	if err != nil {
		return fmt.Errorf("explain %q: %w", term, err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), view.Explanation)
	if view.State == resolver.StateFailed {
		return fmt.Errorf("explanation of %q failed", term)
	}
	return nil
}
