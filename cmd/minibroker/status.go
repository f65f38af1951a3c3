package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func newStatusCmd(g *globals) *cobra.Command {
	var workers bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the stats of a running broker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := g.load(cmd, nil); err != nil {
				return err
			}
			path := "/status"
			if workers {
				path = "/workers"
			}
			body, err := fetchAdmin(cmd.Context(), g.cfg.AdminAddr, path, g.cfg.DialTimeout)
			if err != nil {
				return err
			}
			var out bytes.Buffer
			if err := json.Indent(&out, body, "", "  "); err != nil {
				return fmt.Errorf("decode %s: %w", path, err)
			}
			out.WriteByte('\n')
			_, err = out.WriteTo(cmd.OutOrStdout())
			return err
		},
	}

	f := cmd.Flags()
	f.StringVar(&g.cfg.AdminAddr, "admin", g.cfg.AdminAddr, "broker admin address")
	f.BoolVar(&workers, "workers", false, "list worker identities instead of counters")
	return cmd
}

// fetchAdmin GETs path from the admin API at addr ("host:port", ":port" or
// a URL).
func fetchAdmin(ctx context.Context, addr, path string, timeout time.Duration) ([]byte, error) {
	if strings.HasPrefix(addr, ":") {
		addr = "127.0.0.1" + addr
	}
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}

	client := &http.Client{Timeout: timeout}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, addr+path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: %s", path, resp.Status)
	}
	return body, nil
}
