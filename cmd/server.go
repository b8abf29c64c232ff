package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/mediashield/go-secure-media-server/types"
	"github.com/spf13/cobra"
)

var initialize bool

func init() {
	rotateCmd.Flags().BoolVar(&initialize, "initialize", false, "write a fresh key ring instead of rotating")
	rootCmd.AddCommand(revokeCmd)
	rootCmd.AddCommand(rotateCmd)
}

func newRestyClient() *resty.Client {
	client := resty.New().
		SetBaseURL(serverUrl).
		SetTimeout(30 * time.Second)
	if username != "" {
		client.SetBasicAuth(username, password)
	}
	return client
}

var revokeCmd = &cobra.Command{
	Use:   "revoke <sessionId>",
	Short: "Revoke a viewing session on a running server",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		var record types.SessionRecord
		response, err := newRestyClient().R().
			SetQueryParam("sessionid", args[0]).
			SetResult(&record).
			Post("/api/v1/session/revoke")
		check(err)
		if response.StatusCode() != http.StatusOK {
			check(fmt.Errorf("revoke failed (%d): %s", response.StatusCode(), response.String()))
		}
		fmt.Printf("revoked %s until %s\n", record.SessionID, time.Unix(record.Ttl, 0).UTC().Format(time.RFC3339))
	},
}

var rotateCmd = &cobra.Command{
	Use:   "rotate",
	Short: "Queue a secret rotation on a running server",
	Run: func(cmd *cobra.Command, args []string) {
		path := "/api/v1/admin/rotate"
		if initialize {
			path = "/api/v1/admin/initialize"
		}
		var queued types.OutputTaskQueued
		response, err := newRestyClient().R().
			SetResult(&queued).
			Post(path)
		check(err)
		if response.StatusCode() != http.StatusAccepted {
			check(fmt.Errorf("rotation request failed (%d): %s", response.StatusCode(), response.String()))
		}
		fmt.Printf("queued %s task %s\n", queued.Type, queued.TaskID)
	},
}
