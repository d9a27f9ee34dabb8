package command

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// adminClient calls the server's admin HTTP API.
type adminClient struct {
	baseURL    string
	httpClient *http.Client
	token      string
}

func newAdminClient(baseURL, token string) *adminClient {
	return &adminClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		token:      token,
	}
}

func (c *adminClient) sendNotice(message string) (int, error) {
	body, err := json.Marshal(map[string]string{"message": message})
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequest(http.MethodPost, c.baseURL+"/notices", bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("admin API unreachable: %w", err)
	}
	defer resp.Body.Close()

	var result struct {
		Sent  int    `json:"sent"`
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return 0, fmt.Errorf("unexpected response (%s): %w", resp.Status, err)
	}
	if resp.StatusCode != http.StatusAccepted {
		return 0, fmt.Errorf("notice rejected (%s): %s", resp.Status, result.Error)
	}
	return result.Sent, nil
}

var noticeCmd = &cobra.Command{
	Use:   "notice",
	Short: "Send a notice to every connected client",
	Long: `Send a SERVER_NOTICE to every connected client through the admin API.
When the server issues session tokens, pass an admin account's token from
"pkthubctl login".`,
	RunE: func(cmd *cobra.Command, args []string) error {
		adminURL, _ := cmd.Flags().GetString("admin")
		message, _ := cmd.Flags().GetString("message")
		token, _ := cmd.Flags().GetString("token")

		sent, err := newAdminClient(adminURL, token).sendNotice(message)
		if err != nil {
			return err
		}
		color.Green("✓ Notice delivered to %d client(s)", sent)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(noticeCmd)

	noticeCmd.Flags().String("admin", "http://127.0.0.1:8080", "admin API URL")
	noticeCmd.Flags().StringP("message", "m", "", "notice text")
	noticeCmd.Flags().StringP("token", "t", "", "admin session token")
	noticeCmd.MarkFlagRequired("message")
}
