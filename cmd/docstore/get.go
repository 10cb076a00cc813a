package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/vyrodovalexey/docstore-client/internal/client"
	"github.com/vyrodovalexey/docstore-client/internal/model"
)

func newGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get <path>",
		Short: "Send a GET request and print the response body",
		Long: `Send a GET request for a path relative to the server URL, for example
databases/default/docs/users-1, and print the response body.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.newClient()
			if err != nil {
				return err
			}

			resp, err := c.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("reading response: %w", err)
			}

			if resp.StatusCode >= http.StatusBadRequest {
				return &client.StatusError{
					StatusCode: resp.StatusCode,
					Message:    string(bytes.TrimSpace(body)),
				}
			}

			_, err = cmd.OutOrStdout().Write(body)
			return err
		},
	}
}

func newPutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "put <id> <json>",
		Short: "Store a JSON document in the configured database",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.newClient()
			if err != nil {
				return err
			}

			stored, err := c.PutDocument(cmd.Context(), a.cfg.Database, &model.Document{
				ID:   args[0],
				Body: json.RawMessage(args[1]),
			})
			if err != nil {
				return err
			}

			return json.NewEncoder(cmd.OutOrStdout()).Encode(stored)
		},
	}
}
