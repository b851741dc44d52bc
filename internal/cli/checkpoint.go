package cli

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/scottonanski/persistent-mind-model/internal/ledger"
	"github.com/spf13/cobra"
)

var checkpointUpTo int64

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Record a checkpoint manifest for the chain",
	Long:  "Computes a root hash over the hash sequence of the ledger and appends a checkpoint_manifest record documenting it.",
	RunE:  runCheckpoint,
}

func init() {
	checkpointCmd.Flags().Int64Var(&checkpointUpTo, "up-to", 0, "checkpoint only records up to this id (default: whole chain)")
}

func runCheckpoint(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.close()

	upTo := checkpointUpTo
	if upTo <= 0 {
		length, err := e.ledger.Len()
		if err != nil {
			return err
		}
		if length == 0 {
			return fmt.Errorf("nothing to checkpoint: ledger is empty")
		}
		upTo = length
	}

	hashes, err := e.ledger.HashSequenceUpTo(upTo)
	if err != nil {
		return err
	}
	if len(hashes) == 0 {
		return fmt.Errorf("no records at or below id %d", upTo)
	}

	encoded, err := json.Marshal(hashes)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(encoded)
	rootHash := hex.EncodeToString(sum[:])

	content, err := ledger.CanonicalJSON(map[string]any{
		"up_to_record_id": upTo,
		"length":          len(hashes),
		"root_hash":       rootHash,
	})
	if err != nil {
		return err
	}

	meta := map[string]any{"source": "operator"}
	id, err := e.ledger.Append(ledger.KindCheckpointManifest, string(content), meta)
	if err != nil {
		return err
	}

	fmt.Printf("checkpoint record %d\n", id)
	fmt.Printf("  up to:     %d\n", upTo)
	fmt.Printf("  records:   %d\n", len(hashes))
	fmt.Printf("  root hash: %s\n", rootHash)
	return nil
}
