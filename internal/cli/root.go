package cli

import (
	"fmt"
	"log"

	"github.com/scottonanski/persistent-mind-model/internal/causal"
	"github.com/scottonanski/persistent-mind-model/internal/concept"
	"github.com/scottonanski/persistent-mind-model/internal/config"
	"github.com/scottonanski/persistent-mind-model/internal/embed"
	"github.com/scottonanski/persistent-mind-model/internal/ledger"
	"github.com/scottonanski/persistent-mind-model/internal/retrieval"
	"github.com/spf13/cobra"
)

var (
	configPath string
	dbPath     string
)

var rootCmd = &cobra.Command{
	Use:   "pmm",
	Short: "An append-only substrate for agent memory",
	Long:  "pmm stores agent events in a hash-chained ledger and retrieves context through concept, causal, and vector projections. Single Go binary, local SQLite storage.",
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "path to the pmm database (overrides config)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(appendCmd)
	rootCmd.AddCommand(retrieveCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(checkpointCmd)
	rootCmd.AddCommand(reflectCmd)
	rootCmd.AddCommand(embedCmd)
	rootCmd.AddCommand(statsCmd)
}

// env is everything an invocation needs: the config, the open ledger, and
// live projections rebuilt from it.
type env struct {
	cfg      config.Config
	ledger   *ledger.Ledger
	concepts *concept.Index
	causal   *causal.Index
	vectors  *embed.VectorTable
	embedder *embed.Embedder
}

func openEnv() (*env, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	path := cfg.Database.Path
	if dbPath != "" {
		path = dbPath
	}
	if path == "" {
		path, err = ledger.DefaultDBPath()
		if err != nil {
			return nil, fmt.Errorf("resolve db path: %w", err)
		}
	}

	l, err := ledger.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	e := &env{
		cfg:      cfg,
		ledger:   l,
		concepts: concept.New(),
		causal:   causal.New(),
		vectors:  embed.NewVectorTable(),
		embedder: embed.New(cfg.Embedding.Dims),
	}

	records, err := l.ReadAll()
	if err != nil {
		l.Close()
		return nil, fmt.Errorf("read ledger: %w", err)
	}
	if err := e.concepts.Rebuild(records); err != nil {
		l.Close()
		return nil, fmt.Errorf("rebuild concept index: %w", err)
	}
	e.causal.Rebuild(records)
	e.vectors.Rebuild(records)

	l.Subscribe(func(r *ledger.Record) {
		if err := e.concepts.Sync(r); err != nil {
			log.Printf("concept sync: %v", err)
		}
		e.causal.AddRecord(r)
		e.vectors.Sync(r)
	})

	return e, nil
}

func (e *env) close() {
	e.ledger.Close()
}

// retrievalConfig maps the file config onto one retrieval run.
func retrievalConfig(cfg config.Config) retrieval.Config {
	rc := retrieval.DefaultConfig()
	r := cfg.Retrieval
	if r.BudgetBase > 0 {
		rc.BudgetBase = r.BudgetBase
	}
	if r.GrowthFactor > 0 {
		rc.GrowthFactor = r.GrowthFactor
	}
	if r.BudgetCeiling > 0 {
		rc.BudgetCeiling = r.BudgetCeiling
	}
	if r.ConceptCap > 0 {
		rc.ConceptCap = r.ConceptCap
	}
	if r.ForcedCap > 0 {
		rc.ForcedCap = r.ForcedCap
	}
	if r.VectorTopN > 0 {
		rc.VectorTopN = r.VectorTopN
	}
	if r.SummaryTopN > 0 {
		rc.SummaryTopN = r.SummaryTopN
	}
	if r.PinCount > 0 {
		rc.PinCount = r.PinCount
	}
	if len(r.AlwaysInclude) > 0 {
		rc.AlwaysInclude = r.AlwaysInclude
	}
	return rc
}
