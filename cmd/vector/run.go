package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var (
	runRepo string
	runDesc string
	runType string
)

var runCmd = &cobra.Command{
	Use:   "run [title]",
	Short: "Create a project and run its workflow",
	Long: `Create a project for a change request and execute the full workflow:
sandbox, coding session, verification, and pull request.

Example:
  vector run "fix the broken login redirect" --repo myapp
  vector run "add rate limiting to /api/users" --repo myapp --type feature`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVarP(&runRepo, "repo", "r", "", "Repo config ID")
	runCmd.Flags().StringVarP(&runDesc, "description", "d", "", "Longer task description")
	runCmd.Flags().StringVarP(&runType, "type", "t", "bug", "Ticket type (bug, feature, enhancement)")
	runCmd.MarkFlagRequired("repo")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	title := args[0]

	body, _ := json.Marshal(map[string]string{
		"title":       title,
		"description": runDesc,
		"ticket_type": runType,
		"repo_id":     runRepo,
	})

	resp, err := http.Post(serverURL+"/api/projects", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("connecting to server: %w\nIs the server running? Start it with: vector serve", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server error (%d): %s", resp.StatusCode, string(respBody))
	}

	var project struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&project); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}

	execResp, err := http.Post(serverURL+"/api/projects/"+project.ID+"/execute", "application/json", nil)
	if err != nil {
		return fmt.Errorf("starting workflow: %w", err)
	}
	execResp.Body.Close()
	if execResp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("server refused execution (%d)", execResp.StatusCode)
	}

	fmt.Printf("Project %s started\n", project.ID)
	fmt.Printf("Streaming progress...\n\n")

	return streamEvents(project.ID)
}

func streamEvents(projectID string) error {
	req, _ := http.NewRequest("GET", serverURL+"/api/projects/"+projectID+"/events", nil)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("connecting to event stream: %w", err)
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()

		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		data := strings.TrimPrefix(line, "data: ")
		var entry struct {
			StepName string `json:"step_name"`
			Message  string `json:"message"`
			Level    string `json:"level"`
		}
		if err := json.Unmarshal([]byte(data), &entry); err != nil {
			continue
		}

		switch {
		case entry.Level == "error":
			fmt.Fprintf(os.Stderr, "\033[31m[%s]\033[0m %s\n", entry.StepName, entry.Message)
		case strings.HasPrefix(entry.StepName, "status:"):
			fmt.Printf("\033[36m[%s]\033[0m %s\n", entry.StepName, entry.Message)
		default:
			fmt.Printf("[%s] %s\n", entry.StepName, entry.Message)
		}

		if entry.StepName == "status:completed" {
			fmt.Printf("\n\033[32m✓ Done\033[0m\n")
			return nil
		}
		if entry.StepName == "status:failed" {
			return fmt.Errorf("workflow failed: %s", entry.Message)
		}
	}

	return scanner.Err()
}
