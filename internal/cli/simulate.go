package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/scalytics/skytext/internal/agent"
)

const defaultSimulateFrom = "+15555550123"

var (
	simulateFrom string
	simulateJSON bool
	replayLive   bool
	replayJSON   bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate <text...>",
	Short: "Run one message through the pipeline without the gateway",
	Example: `  skytext simulate "weather in Brooklyn tomorrow"
  skytext simulate --json what should I wear in Seattle today`,
	RunE: runSimulate,
}

var replayCmd = &cobra.Command{
	Use:   "replay <trace_id>",
	Short: "Re-run a stored trace against its recorded weather",
	Args:  cobra.ExactArgs(1),
	RunE:  runReplay,
}

func init() {
	simulateCmd.Flags().StringVar(&simulateFrom, "from", defaultSimulateFrom, "Sender phone number")
	simulateCmd.Flags().BoolVar(&simulateJSON, "json", false, "Print response and trace as JSON")

	replayCmd.Flags().BoolVar(&replayLive, "live", false, "Call the live weather provider instead of the recorded snapshot")
	replayCmd.Flags().BoolVar(&replayJSON, "json", false, "Print response and trace as JSON")
}

func runSimulate(cmd *cobra.Command, args []string) error {
	text := strings.TrimSpace(strings.Join(args, " "))
	if text == "" {
		return errors.New(`usage: skytext simulate "weather in Brooklyn tomorrow" [--json]`)
	}
	ctx := cmd.Context()
	rt, err := openRuntime(ctx, appConfig)
	if err != nil {
		return err
	}
	defer closeRuntime(rt)

	now := time.Now().UTC()
	reply, err := rt.guard.Handle(ctx, agent.Input{
		From:       simulateFrom,
		Body:       text,
		MessageID:  fmt.Sprintf("SIM_%d", now.UnixMilli()),
		ReceivedAt: now,
	})
	if err != nil {
		return err
	}
	tr, err := rt.store.GetTrace(ctx, reply.TraceID)
	if err != nil {
		return fmt.Errorf("load trace %s: %w", reply.TraceID, err)
	}
	return printRun(cmd.OutOrStdout(), reply.ResponseText, tr, simulateJSON)
}

func runReplay(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	rt, err := openRuntime(ctx, appConfig)
	if err != nil {
		return err
	}
	defer closeRuntime(rt)

	res, err := rt.exec.Replay(ctx, args[0], replayLive)
	if err != nil {
		return err
	}
	return printRun(cmd.OutOrStdout(), res.ResponseText, res.Trace, replayJSON)
}

func closeRuntime(rt *runtime) {
	if err := rt.Close(); err != nil {
		slog.Warn("Close trace store", "error", err)
	}
}
