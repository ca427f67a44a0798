package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/spf13/cobra"
)

func scriptCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "script",
		Short: "Manage published scripts",
	}
	cmd.AddCommand(scriptAddCmd(), scriptAddFileCmd(), scriptFreeCmd(), scriptFreeAllCmd())
	return cmd
}

func scriptAddCmd() *cobra.Command {
	var hash int32
	var params []string

	cmd := &cobra.Command{
		Use:   "add <source-file>",
		Short: "Publish a script under a hash, hot-swapping every unit bound to it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			body := map[string]any{"hash": hash, "source": string(data), "params": params}
			return postJSON("/script", body)
		},
	}
	cmd.Flags().Int32VarP(&hash, "hash", "H", 0, "script hash to publish under")
	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "parameter name, repeatable, in declared order")
	cmd.MarkFlagRequired("hash")
	return cmd
}

func scriptAddFileCmd() *cobra.Command {
	var hash int32
	var params []string

	cmd := &cobra.Command{
		Use:   "add-file <path>",
		Short: "Publish a script from a path the daemon resolves itself (filesystem or s3://)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{"hash": hash, "path": args[0], "params": params}
			return postJSON("/script/file", body)
		},
	}
	cmd.Flags().Int32VarP(&hash, "hash", "H", 0, "script hash to publish under")
	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "parameter name, repeatable, in declared order")
	cmd.MarkFlagRequired("hash")
	return cmd
}

func scriptFreeCmd() *cobra.Command {
	var hash int32

	cmd := &cobra.Command{
		Use:   "free",
		Short: "Remove a published script from the registry",
		RunE: func(cmd *cobra.Command, args []string) error {
			return postJSON("/script/free", map[string]any{"hash": hash})
		},
	}
	cmd.Flags().Int32VarP(&hash, "hash", "H", 0, "script hash to free")
	cmd.MarkFlagRequired("hash")
	return cmd
}

func scriptFreeAllCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "free-all",
		Short: "Remove every published script from the registry",
		RunE: func(cmd *cobra.Command, args []string) error {
			return postJSON("/script/free-all", nil)
		},
	}
}

func postJSON(path string, body any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	resp, err := http.Post(httpBaseURL+path, "application/json", reader)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("dyngend returned %d: %s", resp.StatusCode, msg)
	}
	fmt.Println("ok")
	return nil
}
