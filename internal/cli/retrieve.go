package cli

import (
	"fmt"
	"log"
	"strings"

	"github.com/scottonanski/persistent-mind-model/internal/ledger"
	"github.com/scottonanski/persistent-mind-model/internal/retrieval"
	"github.com/spf13/cobra"
)

var (
	retrieveTrigger int64
	retrieveTokens  []string
)

var retrieveCmd = &cobra.Command{
	Use:   "retrieve [query]",
	Short: "Retrieve the record set for a query",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runRetrieve,
}

func init() {
	retrieveCmd.Flags().Int64Var(&retrieveTrigger, "trigger", 0, "record id whose concepts seed the run")
	retrieveCmd.Flags().StringSliceVar(&retrieveTokens, "token", nil, "concept tokens to include in every run")
}

func runRetrieve(cmd *cobra.Command, args []string) error {
	query := ""
	if len(args) == 1 {
		query = args[0]
	}

	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.close()

	cfg := retrievalConfig(e.cfg)
	cfg.TriggerRecordID = retrieveTrigger
	cfg.AlwaysInclude = append(cfg.AlwaysInclude, retrieveTokens...)

	engine := retrieval.New(e.ledger, e.concepts, e.causal, e.vectors, e.embedder)
	res, err := engine.Run(query, cfg)
	if err != nil {
		return err
	}

	if payload, perr := retrieval.SelectionPayload(query, res); perr == nil {
		meta := map[string]any{"source": "retrieval_engine"}
		if _, aerr := e.ledger.Append(ledger.KindRetrievalSelection, payload, meta); aerr != nil {
			log.Printf("retrieval selection audit append failed: %v", aerr)
		}
	}

	fmt.Printf("budget: %d, selected %d records\n", res.Budget, len(res.RecordIDs))
	if len(res.ActiveConcepts) > 0 {
		fmt.Printf("concepts: %s\n", strings.Join(res.ActiveConcepts, ", "))
	}
	if len(res.ActiveThreadIDs) > 0 {
		fmt.Printf("threads: %s\n", strings.Join(res.ActiveThreadIDs, ", "))
	}
	for _, id := range res.RecordIDs {
		rec, err := e.ledger.Get(id)
		if err != nil || rec == nil {
			continue
		}
		content := rec.Content
		if len(content) > 80 {
			content = content[:77] + "..."
		}
		fmt.Printf("  [%d] %s: %s\n", rec.ID, rec.Kind, content)
	}
	return nil
}
