package cli

import (
	"fmt"

	"github.com/scottonanski/persistent-mind-model/internal/ledger"
	"github.com/spf13/cobra"
)

// embeddable kinds carry free text worth a vector. Structured event kinds
// and the embedding records themselves are skipped.
var embeddableKinds = map[ledger.Kind]bool{
	ledger.KindMessage:         true,
	ledger.KindReflection:      true,
	ledger.KindCommitmentOpen:  true,
	ledger.KindSummary:         true,
	ledger.KindLongrangeMemory: true,
}

var embedCmd = &cobra.Command{
	Use:   "embed",
	Short: "Embed ledger records that have no vector yet",
	RunE:  runEmbed,
}

func runEmbed(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.close()

	records, err := e.ledger.ReadAll()
	if err != nil {
		return err
	}

	embedded := 0
	for i := range records {
		rec := &records[i]
		if !embeddableKinds[rec.Kind] || e.vectors.Has(rec.ID) {
			continue
		}
		content, err := e.embedder.BuildVectorPayload(rec)
		if err != nil {
			return fmt.Errorf("embed record %d: %w", rec.ID, err)
		}
		meta := map[string]any{"source": "embedder"}
		if _, err := e.ledger.Append(ledger.KindEmbeddingAdd, content, meta); err != nil {
			return fmt.Errorf("append embedding for record %d: %w", rec.ID, err)
		}
		embedded++
	}

	fmt.Printf("embedded %d records (%d vectors total)\n", embedded, e.vectors.Len())
	return nil
}
