package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/minyanly/dirclient/internal/directory"
)

func getCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <kind> <id>",
		Short: "Fetch one listing (kind: restaurant, synagogue, mikvah, store)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, id := args[0], args[1]
			c, svc, err := newClient(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()

			var out any
			switch kind {
			case "restaurant":
				out, err = svc.GetRestaurant(cmd.Context(), id)
			case "synagogue":
				out, err = svc.GetSynagogue(cmd.Context(), id)
			case "mikvah":
				out, err = svc.GetMikvah(cmd.Context(), id)
			case "store":
				out, err = svc.GetStore(cmd.Context(), id)
			default:
				return fmt.Errorf("unknown kind: %s (valid: restaurant, synagogue, mikvah, store)", kind)
			}
			if err != nil {
				return err
			}
			return printJSON(out)
		},
	}
	return cmd
}

func listCmd() *cobra.Command {
	var (
		city   string
		tag    string
		search string
		limit  int
		offset int
	)
	cmd := &cobra.Command{
		Use:   "list <kind>",
		Short: "List listings of a kind",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, svc, err := newClient(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()

			params := directory.ListParams{
				City:   city,
				Tag:    tag,
				Search: search,
				Limit:  limit,
				Offset: offset,
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			defer w.Flush()

			switch args[0] {
			case "restaurant":
				page, err := svc.ListRestaurants(cmd.Context(), params)
				if err != nil {
					return err
				}
				fmt.Fprintln(w, "ID\tNAME\tCITY\tCERT\tCUISINE")
				for _, r := range page.Items {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
						r.ID, truncate(r.Name, 32), r.Address.City, r.Certification, r.Cuisine)
				}
			case "synagogue":
				page, err := svc.ListSynagogues(cmd.Context(), params)
				if err != nil {
					return err
				}
				fmt.Fprintln(w, "ID\tNAME\tCITY\tDENOMINATION")
				for _, s := range page.Items {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
						s.ID, truncate(s.Name, 32), s.Address.City, s.Denomination)
				}
			case "mikvah":
				page, err := svc.ListMikvahs(cmd.Context(), params)
				if err != nil {
					return err
				}
				fmt.Fprintln(w, "ID\tNAME\tCITY\tAPPOINTMENT")
				for _, m := range page.Items {
					fmt.Fprintf(w, "%s\t%s\t%s\t%v\n",
						m.ID, truncate(m.Name, 32), m.Address.City, m.Appointment)
				}
			case "store":
				page, err := svc.ListStores(cmd.Context(), params)
				if err != nil {
					return err
				}
				fmt.Fprintln(w, "ID\tNAME\tCITY\tCATEGORY")
				for _, s := range page.Items {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
						s.ID, truncate(s.Name, 32), s.Address.City, s.Category)
				}
			default:
				return fmt.Errorf("unknown kind: %s", args[0])
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&city, "city", "", "Filter by city")
	cmd.Flags().StringVar(&tag, "tag", "", "Filter by tag")
	cmd.Flags().StringVar(&search, "search", "", "Full-text search")
	cmd.Flags().IntVar(&limit, "limit", 25, "Page size")
	cmd.Flags().IntVar(&offset, "offset", 0, "Page offset")
	return cmd
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
