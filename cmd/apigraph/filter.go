package main

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/systemshift/apigraph/internal/model"
	"github.com/systemshift/apigraph/internal/state"
	"github.com/systemshift/apigraph/internal/visibility"
)

func newFilterCmd() *cobra.Command {
	var (
		text      string
		ids       []string
		connected bool
		direction string
	)

	cmd := &cobra.Command{
		Use:   "filter",
		Short: "Fetch the entity graph and list the nodes a filter leaves visible",
		Example: `  apigraph filter --text web --connected --direction outbound
  apigraph filter --text "(application)"
  apigraph filter --id application-a1 --connected`,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := visibility.Direction(direction)
			if !dir.Valid() {
				return fmt.Errorf("invalid direction %q: want both, inbound or outbound", direction)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			a, err := setup()
			if err != nil {
				return err
			}
			_, store, _, err := a.fetchGraph(ctx)
			if err != nil {
				return err
			}

			m := model.NewTransformer(a.log).Build(store.Values())
			f := visibility.FilterState{Filter: text, IDs: ids, Connected: connected, Direction: dir}
			result := visibility.New(a.log).Compute(state.Topology(m), f)

			printVisible(cmd, m, result)
			return nil
		},
	}

	cmd.Flags().StringVar(&text, "text", "", "show nodes whose name or \"(type) name\" label starts with text (case-insensitive)")
	cmd.Flags().StringSliceVar(&ids, "id", nil, "show nodes with these ids (repeatable)")
	cmd.Flags().BoolVar(&connected, "connected", false, "also show nodes connected to the matches")
	cmd.Flags().StringVar(&direction, "direction", string(visibility.Both), "connection direction: both, inbound, outbound")
	return cmd
}

func printVisible(cmd *cobra.Command, m *model.Model, result visibility.Result) {
	w := cmd.OutOrStdout()
	visible := result.Visible()
	fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("%d of %d nodes visible", len(visible), len(m.Nodes))))

	for _, id := range visible {
		n, ok := m.Node(id)
		if !ok {
			continue
		}
		dot := lipgloss.NewStyle().Foreground(lipgloss.Color(n.Color)).Render("●")
		fmt.Fprintf(w, "%s %s %s\n", dot, n.Name, dimStyle.Render(n.ID))
	}
}
