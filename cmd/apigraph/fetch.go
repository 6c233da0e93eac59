package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/systemshift/apigraph/internal/entity"
	"github.com/systemshift/apigraph/internal/fetch"
	"github.com/systemshift/apigraph/internal/model"
	"github.com/systemshift/apigraph/internal/server/graph"
)

func newFetchCmd() *cobra.Command {
	var (
		asJSON bool
		save   bool
	)

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch the entity graph and print its statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			a, err := setup()
			if err != nil {
				return err
			}
			root, store, report, err := a.fetchGraph(ctx)
			if err != nil {
				return err
			}

			entities := store.Values()
			m := model.NewTransformer(a.log).Build(entities)

			if save {
				if err := a.save(ctx, root, entities); err != nil {
					return err
				}
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{
					"root":     root,
					"stats":    m.Stats(),
					"groups":   m.Groups,
					"requests": report.Requests,
					"failures": failureStrings(report),
				})
			}
			printStats(cmd, root, m, report)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print statistics as JSON")
	cmd.Flags().BoolVar(&save, "save", false, "store the fetched entities in the configured snapshot store")
	return cmd
}

func (a *app) save(ctx context.Context, root string, entities []entity.Entity) error {
	repo, err := graph.Open(ctx, graph.Config{
		Backend:    a.cfg.Store.Backend,
		SQLitePath: a.cfg.Store.SQLitePath,
		Neo4j: graph.Neo4jConfig{
			URI:      a.cfg.Store.Neo4j.URI,
			Username: a.cfg.Store.Neo4j.User,
			Password: a.cfg.Store.Neo4j.Password,
			Database: a.cfg.Store.Neo4j.Database,
		},
	})
	if err != nil {
		return fmt.Errorf("opening %s store: %w", a.cfg.Store.Backend, err)
	}
	if repo == nil {
		return fmt.Errorf("snapshot store disabled (STORE_BACKEND=%s)", a.cfg.Store.Backend)
	}
	defer repo.Close(ctx)

	snap := graph.NewSnapshot(root, a.cfg.EnvMode, entities)
	if err := repo.SaveSnapshot(ctx, snap); err != nil {
		return fmt.Errorf("saving snapshot: %w", err)
	}
	a.log.Info("snapshot saved", "snapshot", snap.ID, "backend", a.cfg.Store.Backend)
	return nil
}

func failureStrings(r *fetch.Report) []string {
	out := make([]string, 0, len(r.Failures))
	for _, f := range r.Failures {
		out = append(out, f.Error())
	}
	return out
}

func printStats(cmd *cobra.Command, root string, m *model.Model, report *fetch.Report) {
	w := cmd.OutOrStdout()
	stats := m.Stats()

	fmt.Fprintln(w, titleStyle.Render("Graph "+root))
	fmt.Fprintf(w, "%s %d\n", labelStyle.Render("nodes:   "), stats.TotalNodes)
	fmt.Fprintf(w, "%s %d\n", labelStyle.Render("edges:   "), stats.TotalEdges)
	fmt.Fprintf(w, "%s %d\n", labelStyle.Render("groups:  "), stats.TotalGroups)
	fmt.Fprintf(w, "%s %d\n", labelStyle.Render("roots:   "), stats.RootNodes)
	fmt.Fprintf(w, "%s %d in %s\n", labelStyle.Render("requests:"), report.Requests, report.Duration.Round(1e6))

	for _, t := range m.Types() {
		fmt.Fprintln(w, dimStyle.Render(fmt.Sprintf("  %-24s %d", t, stats.NodesByType[t])))
	}

	if report.Partial() {
		fmt.Fprintln(w, warnStyle.Render(fmt.Sprintf("%d requests failed, graph is partial:", len(report.Failures))))
		for _, f := range failureStrings(report) {
			fmt.Fprintln(w, dimStyle.Render("  "+strings.TrimSpace(f)))
		}
	}
}
