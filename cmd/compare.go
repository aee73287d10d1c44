package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/nexus-fiscal/fiscal-cli/internal/fiscal"
	"github.com/nexus-fiscal/fiscal-cli/internal/model"
)

var compareCmd = &cobra.Command{
	Use:   "compare <previous.json> <current.json>",
	Short: "Diff the aggregated totals of two batch results",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		previous, err := readBatchResult(args[0])
		if err != nil {
			return err
		}
		current, err := readBatchResult(args[1])
		if err != nil {
			return err
		}

		differences := fiscal.CompareTotals(previous.Aggregated.Totals, current.Aggregated.Totals)
		for _, line := range fiscal.DescribeTotals(differences) {
			fmt.Println(line)
		}
		return nil
	},
}

func readBatchResult(path string) (*model.BatchResult, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "compare: read %s", path)
	}
	var result model.BatchResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, eris.Wrapf(err, "compare: decode %s", path)
	}
	return &result, nil
}

func init() {
	rootCmd.AddCommand(compareCmd)
}
