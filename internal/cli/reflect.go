package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/scottonanski/persistent-mind-model/internal/ledger"
	"github.com/scottonanski/persistent-mind-model/internal/llm"
	"github.com/spf13/cobra"
)

var (
	reflectTarget int64
	reflectWindow int
)

var reflectCmd = &cobra.Command{
	Use:   "reflect",
	Short: "Generate a reflection over recent ledger history",
	Long:  "Feeds the recent ledger tail to the configured LLM and appends the result as a reflection record.",
	RunE:  runReflect,
}

func init() {
	reflectCmd.Flags().Int64Var(&reflectTarget, "target", 0, "record id the reflection is about")
	reflectCmd.Flags().IntVar(&reflectWindow, "window", 20, "number of recent records to reflect over")
}

const reflectSystemPrompt = `You observe an agent's event history. Write one short
reflection: what the agent is working toward, what commitments are open, and
what it should keep in mind. Plain prose, no preamble.`

func runReflect(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.close()

	llmCfg := e.cfg.LLM
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		llmCfg.Provider = "anthropic"
		llmCfg.AnthropicKey = key
	}
	client, err := llm.NewClient(llmCfg)
	if err != nil {
		return fmt.Errorf("configure llm: %w", err)
	}

	records, err := e.ledger.ReadTail(reflectWindow)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return fmt.Errorf("nothing to reflect on: ledger is empty")
	}

	var b strings.Builder
	for _, rec := range records {
		role := ""
		if r, ok := rec.Meta["role"].(string); ok {
			role = " " + r
		}
		fmt.Fprintf(&b, "[%d] %s%s: %s\n", rec.ID, rec.Kind, role, rec.Content)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	text, err := client.Generate(ctx, reflectSystemPrompt, b.String())
	if err != nil {
		return fmt.Errorf("generate reflection: %w", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("llm returned an empty reflection")
	}

	meta := map[string]any{"source": "reflection"}
	if reflectTarget > 0 {
		meta["target_id"] = reflectTarget
	}
	id, err := e.ledger.Append(ledger.KindReflection, text, meta)
	if err != nil {
		return err
	}

	fmt.Printf("reflection record %d\n%s\n", id, text)
	return nil
}
