package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/purser-io/purser/pkg/template"
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply a composite template",
	Long: `Apply a composite template from a YAML file.

The template is validated and expanded server side; containers sharing
host-bound volumes come back with affinity constraints applied.

Examples:
  # Apply an application template
  purser apply -f app.yaml`,
	RunE: runApply,
}

func init() {
	applyCmd.Flags().StringP("file", "f", "", "YAML file to apply (required)")
	applyCmd.Flags().String("server", "http://127.0.0.1:8080", "Purser API address")
	_ = applyCmd.MarkFlagRequired("file")
}

func runApply(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")
	server, _ := cmd.Flags().GetString("server")

	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	// Validate locally before shipping, for a fast error on malformed input.
	if _, err := template.Parse(data); err != nil {
		return fmt.Errorf("invalid template: %w", err)
	}

	resp, err := http.Post(server+"/templates", "application/x-yaml", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to reach server: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("server rejected template: %s", string(body))
	}

	var composite struct {
		SelfLink   string `json:"documentSelfLink"`
		Name       string `json:"name"`
		Containers []struct {
			Name     string   `json:"name"`
			Affinity []string `json:"affinity,omitempty"`
		} `json:"containers"`
	}
	if err := json.Unmarshal(body, &composite); err != nil {
		return fmt.Errorf("unexpected server response: %w", err)
	}

	fmt.Printf("Composite created: %s (%s)\n", composite.Name, composite.SelfLink)
	for _, c := range composite.Containers {
		if len(c.Affinity) > 0 {
			fmt.Printf("  %s -> co-located with %s\n", c.Name, c.Affinity[0])
		} else {
			fmt.Printf("  %s\n", c.Name)
		}
	}
	return nil
}
