package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"tradeq/internal/httpapi"
	"tradeq/internal/prompt"
	"tradeq/internal/tui"
)

var askTimeout time.Duration

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Answer one question and print the result as JSON",
	Example: `  tradeq ask "exports from india"
  tradeq ask --timeout 30s "top 3 commodities by export value in 2024"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

var exploreCmd = &cobra.Command{
	Use:   "explore",
	Short: "Open the interactive terminal explorer",
	Args:  cobra.NoArgs,
	RunE:  runExplore,
}

var promptCmd = &cobra.Command{
	Use:   "prompt [question]",
	Short: "Print the instructions that would be sent for a question",
	Long:  "Builds the prompt from the configured schema without contacting the inference service or the store.",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runPrompt,
}

func init() {
	askCmd.Flags().DurationVar(&askTimeout, "timeout", 2*time.Minute, "Overall deadline for the question")
	exploreCmd.Flags().DurationVar(&askTimeout, "timeout", 2*time.Minute, "Deadline for each question")
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), askTimeout)
	defer cancel()

	svc, st, err := buildService(ctx, appCfg, logger)
	if err != nil {
		return err
	}
	defer st.Close(context.Background())

	answer, err := svc.Ask(ctx, strings.Join(args, " "))
	if err != nil {
		return err
	}
	resp, err := httpapi.NewQueryResponse(answer)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}

func runExplore(cmd *cobra.Command, args []string) error {
	// The explorer owns the terminal; only warnings reach stderr.
	log := logger
	if !verbose {
		log = zap.NewNop()
	}
	svc, st, err := buildService(cmd.Context(), appCfg, log)
	if err != nil {
		return err
	}
	defer st.Close(context.Background())

	status := svc.Status(cmd.Context())
	banner := fmt.Sprintf("store=%s connected=%t  inference=%s  schema=%s",
		appCfg.Store.Type, status.StoreConnected, status.Inference, status.SchemaVersion)

	m := tui.New(svc, banner, askTimeout)
	_, err = tea.NewProgram(m, tea.WithAltScreen(), tea.WithOutput(os.Stdout)).Run()
	return err
}

func runPrompt(cmd *cobra.Command, args []string) error {
	desc, err := loadSchema(appCfg)
	if err != nil {
		return err
	}
	text, err := prompt.NewBuilder(desc, nil).Build(strings.Join(args, " "))
	if err != nil {
		return err
	}
	_, err = fmt.Fprint(cmd.OutOrStdout(), text)
	return err
}
