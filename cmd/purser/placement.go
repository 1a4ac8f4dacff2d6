package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/purser-io/purser/pkg/types"
)

var placementCmd = &cobra.Command{
	Use:   "placement",
	Short: "Inspect and configure reservation placements",
}

var placementShowCmd = &cobra.Command{
	Use:   "show POOL",
	Short: "Show the allocation counters for a resource pool",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		server, _ := cmd.Flags().GetString("server")

		resp, err := http.Get(server + "/placements/" + args[0])
		if err != nil {
			return fmt.Errorf("failed to reach server: %w", err)
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode >= 300 {
			return fmt.Errorf("server error: %s", string(body))
		}

		var p types.Placement
		if err := json.Unmarshal(body, &p); err != nil {
			return fmt.Errorf("unexpected server response: %w", err)
		}
		fmt.Printf("Placement: %s\n", p.SelfLink)
		fmt.Printf("  Pool: %s\n", p.ResourcePoolLink)
		if p.MaxInstances > 0 {
			fmt.Printf("  Allocated: %d / %d\n", p.AllocatedInstancesCount, p.MaxInstances)
		} else {
			fmt.Printf("  Allocated: %d (unlimited)\n", p.AllocatedInstancesCount)
		}
		for desc, count := range p.ResourceQuotaPerDescription {
			fmt.Printf("    %s: %d\n", desc, count)
		}
		return nil
	},
}

var placementQuotaCmd = &cobra.Command{
	Use:   "quota POOL MAX",
	Short: "Set the instance quota for a resource pool",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		server, _ := cmd.Flags().GetString("server")

		max, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("MAX must be an integer: %w", err)
		}
		payload, err := json.Marshal(map[string]int64{
			"maxNumberInstances": max,
		})
		if err != nil {
			return err
		}
		req, err := http.NewRequest(http.MethodPut,
			server+"/placements/"+args[0]+"/quota", bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return fmt.Errorf("failed to reach server: %w", err)
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode >= 300 {
			return fmt.Errorf("server error: %s", string(body))
		}
		fmt.Printf("Quota updated for pool %s\n", args[0])
		return nil
	},
}

func init() {
	placementCmd.PersistentFlags().String("server", "http://127.0.0.1:8080", "Purser API address")
	placementCmd.AddCommand(placementShowCmd)
	placementCmd.AddCommand(placementQuotaCmd)
}
