// ABOUTME: create and list subcommands backed by the gateway HTTP API
// ABOUTME: create posts a team declaration file, list prints live conversations

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/2389/parley-gateway/internal/gateway"
)

func newCreateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "create <team.json>",
		Short: "Create a conversation from a team declaration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := createConversation(cmd.Context(), opts.cfg.Gateway.URL, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "  %s Created conversation %s\n", successMark, agentStyle.Render(id))
			return nil
		},
	}
}

// createConversation posts the team file to /c2/create and returns the id.
func createConversation(ctx context.Context, baseURL, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading team file: %w", err)
	}

	var team gateway.CreateConversationRequest
	if err := json.Unmarshal(data, &team); err != nil {
		return "", fmt.Errorf("parsing team file: %w", err)
	}
	body, err := json.Marshal(team)
	if err != nil {
		return "", fmt.Errorf("encoding request: %w", err)
	}

	url := strings.TrimSuffix(baseURL, "/") + "/c2/create"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("create failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return "", responseError(resp)
	}

	var out gateway.CreateConversationResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	return out.ConversationID, nil
}

// listedConversation is the subset of a conversation summary the client shows.
type listedConversation struct {
	ID                string   `json:"conversation_id"`
	Name              string   `json:"name"`
	State             string   `json:"state"`
	Messages          int      `json:"messages"`
	Participants      []string `json:"participants"`
	InterventionsLeft int      `json:"human_interventions_left"`
	Error             string   `json:"error,omitempty"`
}

func newListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List live conversations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			convs, err := listConversations(cmd.Context(), opts.cfg.Gateway.URL)
			if err != nil {
				return err
			}
			printConversations(cmd.OutOrStdout(), convs)
			return nil
		},
	}
}

func listConversations(ctx context.Context, baseURL string) ([]listedConversation, error) {
	url := strings.TrimSuffix(baseURL, "/") + "/c2"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, responseError(resp)
	}

	var out struct {
		Conversations []listedConversation `json:"conversations"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return out.Conversations, nil
}

func printConversations(w io.Writer, convs []listedConversation) {
	if len(convs) == 0 {
		fmt.Fprintf(w, "  %s\n", dimStyle.Render("No live conversations."))
		return
	}
	for _, c := range convs {
		fmt.Fprintf(w, "  %s %s %s\n",
			agentStyle.Render(c.ID),
			c.Name,
			dimStyle.Render(fmt.Sprintf("[%s, %d messages, %s]", c.State, c.Messages, strings.Join(c.Participants, ", "))),
		)
		if c.Error != "" {
			fmt.Fprintf(w, "    %s\n", warnStyle.Render(c.Error))
		}
	}
}

// responseError turns a non-success gateway response into an error.
func responseError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if json.Unmarshal(data, &body) == nil && body.Error != "" {
		return fmt.Errorf("gateway returned %d: %s", resp.StatusCode, body.Error)
	}
	return fmt.Errorf("gateway returned %d", resp.StatusCode)
}
