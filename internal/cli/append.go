package cli

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/scottonanski/persistent-mind-model/internal/ledger"
	"github.com/spf13/cobra"
)

var appendMetaJSON string

var appendCmd = &cobra.Command{
	Use:   "append <kind> <content>",
	Short: "Append a record to the ledger",
	Args:  cobra.ExactArgs(2),
	RunE:  runAppend,
}

func init() {
	appendCmd.Flags().StringVar(&appendMetaJSON, "meta", "", "record metadata as a JSON object")
}

func runAppend(cmd *cobra.Command, args []string) error {
	kind := ledger.Kind(args[0])
	content := args[1]

	var meta map[string]any
	if appendMetaJSON != "" {
		if err := json.Unmarshal([]byte(appendMetaJSON), &meta); err != nil {
			return fmt.Errorf("parse --meta: %w", err)
		}
	}

	if kind == ledger.KindCommitmentOpen {
		if meta == nil {
			meta = map[string]any{}
		}
		if _, ok := meta["thread_id"]; !ok {
			meta["thread_id"] = uuid.NewString()
		}
	}

	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.close()

	id, err := e.ledger.Append(kind, content, meta)
	if err != nil {
		return err
	}

	rec, err := e.ledger.Get(id)
	if err != nil {
		return err
	}

	fmt.Printf("appended record %d\n", rec.ID)
	fmt.Printf("  kind: %s\n", rec.Kind)
	fmt.Printf("  hash: %s\n", rec.Hash)
	if threadID, ok := rec.Meta["thread_id"].(string); ok {
		fmt.Printf("  thread: %s\n", threadID)
	}
	return nil
}
