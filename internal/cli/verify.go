package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the ledger hash chain",
	RunE:  runVerify,
}

func runVerify(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.close()

	length, err := e.ledger.Len()
	if err != nil {
		return err
	}

	if err := e.ledger.VerifyChain(); err != nil {
		return fmt.Errorf("chain verification failed: %w", err)
	}

	fmt.Printf("chain ok: %d records\n", length)
	return nil
}
