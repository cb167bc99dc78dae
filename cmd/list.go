package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/gurisko/demosite/internal/registry"
)

var (
	listJSON     bool
	listArchived bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered company sites",
	Long: `List the sites in the registry.

Examples:
  demosite list                 # Active sites
  demosite list --archived      # Include archived sites
  demosite list --json | jq -r '.sites[].id'`,
	Args: cobra.NoArgs,
	RunE: runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().BoolVar(&listJSON, "json", false, "output JSON")
	listCmd.Flags().BoolVarP(&listArchived, "archived", "a", false, "include archived sites")
}

func filterSites(sites []registry.Site, archived bool) []registry.Site {
	out := make([]registry.Site, 0, len(sites))
	for _, s := range sites {
		if s.Archived && !archived {
			continue
		}
		out = append(out, s)
	}
	return out
}

func runList(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	reg, err := a.store.Load()
	if err != nil {
		return err
	}
	reg.Sites = filterSites(reg.Sites, listArchived)

	if listJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		return enc.Encode(reg)
	}

	if len(reg.Sites) == 0 {
		fmt.Println("No sites found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tTAG\tARCHIVED\tUPDATED\tDESCRIPTION")
	for _, s := range reg.Sites {
		desc := shorten(s.Description, 50)
		updated := s.Updated
		if updated == "" {
			updated = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\t%s\n",
			s.ID,
			s.Name,
			s.Tag,
			s.Archived,
			updated,
			desc,
		)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Printf("\nTotal: %d site(s)\n", len(reg.Sites))
	return nil
}

// shorten cuts s to at most limit runes, ending in "..." when cut
func shorten(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit-3]) + "..."
}
