package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func unitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unit",
		Short: "Inspect live generator units",
	}
	cmd.AddCommand(unitListCmd())
	return cmd
}

type unitSummary struct {
	CodeID    int32 `json:"code_id"`
	HasVM     bool  `json:"has_vm"`
	NumInputs int   `json:"num_inputs"`
}

func unitListCmd() *cobra.Command {
	var hash int32
	var filterSet bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List units, optionally filtered to one script hash",
		RunE: func(cmd *cobra.Command, args []string) error {
			filterSet = cmd.Flags().Changed("hash")
			url := httpBaseURL + "/units"
			if filterSet {
				url += fmt.Sprintf("?hash=%d", hash)
			}
			resp, err := http.Get(url)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode >= 400 {
				msg, _ := io.ReadAll(resp.Body)
				return fmt.Errorf("dyngend returned %d: %s", resp.StatusCode, msg)
			}

			var units []unitSummary
			if err := json.NewDecoder(resp.Body).Decode(&units); err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "CODE_ID\tHAS_VM\tNUM_INPUTS")
			for _, u := range units {
				fmt.Fprintf(w, "%d\t%v\t%d\n", u.CodeID, u.HasVM, u.NumInputs)
			}
			return w.Flush()
		},
	}
	cmd.Flags().Int32VarP(&hash, "hash", "H", 0, "filter to units bound to this script hash")
	return cmd
}
