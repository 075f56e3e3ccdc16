package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status [project-id]",
	Short: "Get the status of a project",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

var logsCmd = &cobra.Command{
	Use:   "logs [project-id]",
	Short: "Follow a project's execution log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return streamEvents(args[0])
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(logsCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	id := args[0]

	resp, err := http.Get(serverURL + "/api/projects/" + id)
	if err != nil {
		return fmt.Errorf("connecting to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server error (%d): %s", resp.StatusCode, string(body))
	}

	var p struct {
		ID          string `json:"id"`
		Title       string `json:"title"`
		TicketType  string `json:"ticket_type"`
		Status      string `json:"status"`
		IssueURL    string `json:"issue_url"`
		PRURL       string `json:"pr_url"`
		Error       string `json:"error"`
		CreatedAt   string `json:"created_at"`
		UpdatedAt   string `json:"updated_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}

	fmt.Printf("Project:  %s\n", p.ID)
	fmt.Printf("Title:    %s\n", p.Title)
	fmt.Printf("Type:     %s\n", p.TicketType)
	fmt.Printf("Status:   %s\n", p.Status)
	fmt.Printf("Created:  %s\n", p.CreatedAt)
	fmt.Printf("Updated:  %s\n", p.UpdatedAt)
	if p.IssueURL != "" {
		fmt.Printf("Issue:    %s\n", p.IssueURL)
	}
	if p.PRURL != "" {
		fmt.Printf("PR:       %s\n", p.PRURL)
	}
	if p.Error != "" {
		fmt.Printf("Error:    %s\n", p.Error)
	}

	return nil
}
