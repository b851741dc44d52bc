package cli

import (
	"fmt"
	"sort"

	"github.com/scottonanski/persistent-mind-model/internal/ledger"
	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print ledger and projection statistics",
	RunE:  runStats,
}

func runStats(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.close()

	length, err := e.ledger.Len()
	if err != nil {
		return err
	}
	byKind, err := e.ledger.CountByKind()
	if err != nil {
		return err
	}

	fmt.Printf("ledger: %d records (%s)\n", length, e.ledger.DB().Path)

	kinds := make([]string, 0, len(byKind))
	for k := range byKind {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		fmt.Printf("  %-20s %d\n", k, byKind[ledger.Kind(k)])
	}

	cs := e.concepts.Stats()
	fmt.Printf("concepts: %d defined, %d aliases, %d edges, %d event bindings, %d thread bindings\n",
		cs.Concepts, cs.Aliases, cs.Edges, cs.EventBindings, cs.ThreadBindings)

	nodes, edges := e.causal.Stats()
	fmt.Printf("causal: %d nodes, %d edges, %d threads\n", nodes, edges, len(e.causal.Threads()))

	fmt.Printf("vectors: %d\n", e.vectors.Len())
	return nil
}
