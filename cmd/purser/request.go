package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/purser-io/purser/pkg/api"
	"github.com/purser-io/purser/pkg/types"
)

var requestCmd = &cobra.Command{
	Use:   "request",
	Short: "Manage lifecycle requests",
}

var requestProvisionCmd = &cobra.Command{
	Use:   "provision DESCRIPTION_LINK",
	Short: "Provision resources from a description",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		server, _ := cmd.Flags().GetString("server")
		resourceType, _ := cmd.Flags().GetString("type")
		count, _ := cmd.Flags().GetInt64("count")
		pool, _ := cmd.Flags().GetString("pool")
		contextID, _ := cmd.Flags().GetString("context")

		return postRequest(server, api.CreateRequestBody{
			Operation:               string(types.OperationProvision),
			ResourceType:            resourceType,
			ResourceDescriptionLink: args[0],
			ResourceCount:           count,
			ResourcePoolLink:        pool,
			ContextID:               contextID,
		})
	},
}

var requestRemoveCmd = &cobra.Command{
	Use:   "remove RESOURCE_LINK...",
	Short: "Remove resource instances",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		server, _ := cmd.Flags().GetString("server")
		resourceType, _ := cmd.Flags().GetString("type")
		pool, _ := cmd.Flags().GetString("pool")
		descriptionLink, _ := cmd.Flags().GetString("description")

		return postRequest(server, api.CreateRequestBody{
			Operation:               string(types.OperationRemove),
			ResourceType:            resourceType,
			ResourceLinks:           args,
			ResourcePoolLink:        pool,
			ResourceDescriptionLink: descriptionLink,
		})
	},
}

var requestStatusCmd = &cobra.Command{
	Use:   "status REQUEST_ID",
	Short: "Show the state of a broker request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		server, _ := cmd.Flags().GetString("server")

		resp, err := http.Get(server + "/requests/broker/" + args[0])
		if err != nil {
			return fmt.Errorf("failed to reach server: %w", err)
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode >= 300 {
			return fmt.Errorf("server error: %s", string(body))
		}

		var task types.TaskDocument
		if err := json.Unmarshal(body, &task); err != nil {
			return fmt.Errorf("unexpected server response: %w", err)
		}
		fmt.Printf("Request: %s\n", task.SelfLink)
		fmt.Printf("  Stage: %s", task.Stage)
		if task.SubStage != "" {
			fmt.Printf(" / %s", task.SubStage)
		}
		fmt.Println()
		if task.Failure != "" {
			fmt.Printf("  Failure: %s\n", task.Failure)
		}
		for _, link := range task.ResourceLinks {
			fmt.Printf("  Resource: %s\n", link)
		}
		return nil
	},
}

func init() {
	requestCmd.PersistentFlags().String("server", "http://127.0.0.1:8080", "Purser API address")

	requestProvisionCmd.Flags().String("type", string(types.ResourceTypeContainer), "Resource type")
	requestProvisionCmd.Flags().Int64("count", 1, "Number of instances")
	requestProvisionCmd.Flags().String("pool", "", "Resource pool to reserve against")
	requestProvisionCmd.Flags().String("context", "", "Deployment context ID")

	requestRemoveCmd.Flags().String("type", string(types.ResourceTypeContainer), "Resource type")
	requestRemoveCmd.Flags().String("pool", "", "Resource pool to release the reservation from")
	requestRemoveCmd.Flags().String("description", "", "Description link of the instances being removed")

	requestCmd.AddCommand(requestProvisionCmd)
	requestCmd.AddCommand(requestRemoveCmd)
	requestCmd.AddCommand(requestStatusCmd)
}

func postRequest(server string, body api.CreateRequestBody) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := http.Post(server+"/requests/broker", "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to reach server: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("request rejected: %s", string(respBody))
	}

	var task types.TaskDocument
	if err := json.Unmarshal(respBody, &task); err != nil {
		return fmt.Errorf("unexpected server response: %w", err)
	}
	fmt.Printf("Request created: %s (stage=%s)\n", task.SelfLink, task.Stage)
	return nil
}
