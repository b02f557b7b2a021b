package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/callguard/internal/callclient"
)

// newCallCmd builds the "call" subcommand: dispatch a single request
// through the call engine against the configured base URL pool, printing
// the terminal outcome.
func newCallCmd() *cobra.Command {
	var (
		method  string
		data    string
		headers []string
	)

	cmd := &cobra.Command{
		Use:   "call <path>",
		Short: "Dispatch a single request through the call engine",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())

			opts, err := cc.Config.ToOptions()
			if err != nil {
				return err
			}

			opts = append(opts, callclient.WithLogger(cc.Logger))

			client, err := callclient.NewClient(cc.BaseURLs, opts...)
			if err != nil {
				return fmt.Errorf("building client: %w", err)
			}

			req := callclient.NewRequest(strings.ToUpper(method), cc.BaseURLs[0]+args[0])

			for _, h := range headers {
				name, value, ok := strings.Cut(h, ":")
				if !ok {
					return fmt.Errorf("invalid --header %q: expected NAME:VALUE", h)
				}

				req.Headers.Set(strings.TrimSpace(name), strings.TrimSpace(value))
			}

			if data != "" {
				req.Body = callclient.BytesBody([]byte(data))
			}

			if isInteractive() && !flagJSON {
				fmt.Fprintf(cmd.ErrOrStderr(), "dispatching %s %s against %d backend(s)...\n", req.Method, args[0], len(cc.BaseURLs))
			}

			resp, err := client.Execute(cmd.Context(), req)

			return printCallOutcome(cmd, resp, err)
		},
	}

	cmd.Flags().StringVarP(&method, "method", "X", http.MethodGet, "HTTP method")
	cmd.Flags().StringVarP(&data, "data", "d", "", "request body")
	cmd.Flags().StringArrayVarP(&headers, "header", "H", nil, "request header NAME:VALUE (repeatable)")

	return cmd
}

// callResult is the "--json" rendering of a call outcome.
type callResult struct {
	StatusCode int    `json:"status_code,omitempty"`
	Body       string `json:"body,omitempty"`
	Error      string `json:"error,omitempty"`
}

// printCallOutcome renders a call's terminal outcome. Every call error,
// remote or io/transport alike, is printed and does not fail the process;
// a non-nil error is returned only when the successful response's body
// cannot be read or the output cannot be written.
func printCallOutcome(cmd *cobra.Command, resp *callclient.Response, callErr error) error {
	if callErr != nil {
		var ce *callclient.CallError

		result := callResult{Error: callErr.Error()}
		if errors.As(callErr, &ce) {
			result.StatusCode = ce.StatusCode
			result.Body = string(ce.Body)
		}

		if flagJSON {
			return writeJSON(cmd.OutOrStdout(), result)
		}

		fmt.Fprintf(cmd.ErrOrStderr(), "call failed: %v\n", callErr)

		return nil
	}

	body, err := resp.Buffer()
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}

	if flagJSON {
		return writeJSON(cmd.OutOrStdout(), callResult{StatusCode: resp.StatusCode, Body: string(body)})
	}

	fmt.Fprintf(cmd.OutOrStdout(), "status: %d\n", resp.StatusCode)
	fmt.Fprintln(cmd.OutOrStdout(), string(body))

	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}
