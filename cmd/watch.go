package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/28Pollux28/zync/internal/challenge"
	"github.com/28Pollux28/zync/internal/identity"
	"github.com/28Pollux28/zync/internal/orchestrator"
	"github.com/28Pollux28/zync/internal/poller"
	"github.com/28Pollux28/zync/pkg/config"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	watchTeam  string
	watchStart bool
	watchReset bool
	watchMode  string
)

var watchCmd = &cobra.Command{
	Use:   "watch <challenge-id>",
	Short: "Run one polling session for a team from the terminal",
	Long:  "Polls a challenge for a team until its instance is usable or the ceiling elapses. With --start or --reset the instance is started or reset first.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		challengeID := args[0]
		id := identity.New(challenge.TeamCode(watchTeam))
		if !id.Known() {
			fmt.Fprintln(os.Stderr, "--team is required")
			os.Exit(1)
		}
		if watchStart && watchReset {
			fmt.Fprintln(os.Stderr, "--start and --reset are mutually exclusive")
			os.Exit(1)
		}

		cfg := config.Get()
		orch, closeOrch, err := newOrchestrator(cfg)
		if err != nil {
			zap.S().Fatalf("Failed to set up orchestrator: %v", err)
		}
		defer closeOrch()

		done := make(chan poller.Transition, 1)
		p := poller.New(orch, id,
			poller.WithInterval(cfg.Poller.Interval),
			poller.WithCeiling(cfg.Poller.Ceiling),
			poller.WithObserver(poller.ObserverFunc(func(tr poller.Transition) {
				printTransition(tr)
				if tr.To.Terminal() {
					select {
					case done <- tr:
					default:
					}
				}
			})),
		)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		switch {
		case watchStart:
			_, err = p.Start(ctx, challengeID)
		case watchReset:
			_, err = p.Reset(ctx, challengeID, orchestrator.ResetMode(watchMode))
		default:
			_, err = p.Watch(challengeID)
		}
		if err != nil {
			zap.S().Fatalf("Failed to open polling session: %v", err)
		}

		var final poller.Transition
		select {
		case final = <-done:
		case <-ctx.Done():
		}
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := p.Close(closeCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			zap.S().Warnf("Failed to stop poller: %v", err)
		}

		view, _ := p.View(challengeID)
		printAccess(view)
		if final.To != poller.StateResolved {
			os.Exit(2)
		}
	},
}

func printTransition(tr poller.Transition) {
	state := tr.To.String()
	switch tr.To {
	case poller.StateResolved:
		state = color.New(color.FgGreen, color.Bold).Sprint(state)
	case poller.StateTimedOut, poller.StateCancelled:
		state = color.New(color.FgRed).Sprint(state)
	default:
		state = color.New(color.FgYellow).Sprint(state)
	}
	fmt.Printf("[%s] %s %s -> %s (iterations %d)\n", tr.At.Format(time.TimeOnly), tr.ChallengeID, tr.From, state, tr.Iterations)
}

func printAccess(view poller.View) {
	if view.LastError != "" {
		fmt.Printf("  last error: %s\n", color.New(color.FgRed).Sprint(view.LastError))
	}
	ra := view.Access
	if ra == nil {
		fmt.Printf("  %s\n", color.New(color.FgYellow).Sprint("instance not yet available"))
		return
	}
	for _, f := range []struct{ label, value string }{
		{"address", ra.Address},
		{"url", ra.AccessURL},
		{"console", ra.ConsoleURL},
		{"download", ra.DownloadURL},
		{"hint", ra.Hint},
	} {
		if f.value != "" {
			fmt.Printf("  %-8s %s\n", f.label+":", color.New(color.FgCyan).Sprint(f.value))
		}
	}
	if ra.Warning != "" {
		fmt.Printf("  %s\n", color.New(color.FgYellow).Sprint(ra.Warning))
	}
}

func init() {
	watchCmd.Flags().StringVar(&watchTeam, "team", "", "team code")
	watchCmd.Flags().BoolVar(&watchStart, "start", false, "start the instance before polling")
	watchCmd.Flags().BoolVar(&watchReset, "reset", false, "reset the instance before polling")
	watchCmd.Flags().StringVar(&watchMode, "mode", "", "reset mode for virtual machines: restart or redeploy")
}
