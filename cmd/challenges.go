package cmd

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/28Pollux28/zync/internal/access"
	"github.com/28Pollux28/zync/internal/challenge"
	"github.com/28Pollux28/zync/internal/identity"
	"github.com/28Pollux28/zync/internal/resolver"
	"github.com/28Pollux28/zync/pkg/config"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var challengesTeam string

var challengesCmd = &cobra.Command{
	Use:   "challenges",
	Short: "List challenges and, with --team, that team's access",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		orch, closeOrch, err := newOrchestrator(config.Get())
		if err != nil {
			zap.S().Fatalf("Failed to set up orchestrator: %v", err)
		}
		defer closeOrch()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		challs, err := orch.ListChallenges(ctx)
		if err != nil {
			zap.S().Fatalf("Failed to list challenges: %v", err)
		}
		renderChallenges(challs, identity.New(challenge.TeamCode(challengesTeam)))
	},
}

func renderChallenges(challs []challenge.Challenge, id identity.Identity) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	header := table.Row{"ID", "Name", "Category", "Active", "Instances"}
	if id.Known() {
		header = append(header, "Status", "Access")
	}
	t.AppendHeader(header)

	for i := range challs {
		ch := &challs[i]
		row := table.Row{ch.ID, ch.Name, ch.Category, ch.Active, strconv.Itoa(len(ch.Instances))}
		if id.Known() {
			var inst *challenge.Instance
			if ch.Category.Instanced() {
				inst = resolver.Resolve(ch.Instances, id)
			}
			ra := access.Compose(ch, inst, id.Code)
			row = append(row, rowStatus(inst, ra), accessSummary(ra))
		}
		t.AppendRow(row)
	}
	t.SetStyle(table.StyleColoredDark)
	if id.Known() {
		t.SetColumnConfigs([]table.ColumnConfig{
			{
				Name:  "Status",
				Align: text.AlignCenter,
				Transformer: text.Transformer(func(s interface{}) string {
					switch s.(string) {
					case "READY":
						return text.FgHiGreen.Sprint(s)
					case "PENDING":
						return text.FgHiYellow.Sprint(s)
					}
					return text.FgHiBlack.Sprint(s)
				}),
			},
		})
	}
	t.Render()
}

func rowStatus(inst *challenge.Instance, ra *challenge.ResolvedAccess) string {
	switch {
	case ra != nil:
		return "READY"
	case inst != nil:
		return "PENDING"
	}
	return "NOT STARTED"
}

func accessSummary(ra *challenge.ResolvedAccess) string {
	if ra == nil {
		return ""
	}
	for _, v := range []string{ra.AccessURL, ra.ConsoleURL, ra.DownloadURL, ra.Address} {
		if v != "" {
			return v
		}
	}
	return ""
}

func init() {
	challengesCmd.Flags().StringVar(&challengesTeam, "team", "", "team code to resolve instances for")
}
