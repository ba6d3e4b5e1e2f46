// ABOUTME: Admin CLI for the jesseverse extension registry
// ABOUTME: Lists, registers, removes, previews, probes and executes extensions over the REST API

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

const defaultServer = "http://localhost:8080"

// options holds the global flags.
type options struct {
	server string
	apiKey string
	token  string
}

func (o *options) client() *apiClient {
	return newAPIClient(o.server, o.apiKey, o.token)
}

// resolveAPIKey returns the key from flag or env, falling back to the api_key
// file next to the jesseverse config.
func resolveAPIKey(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if key := os.Getenv("JESSEVERSE_API_KEY"); key != "" {
		return key
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	data, err := os.ReadFile(filepath.Join(configDir, "jesseverse", "api_key"))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "jesseverse-admin",
		Short:         "Manage the extensions registered with a jesseverse hub",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			opts.apiKey = resolveAPIKey(opts.apiKey)
		},
	}

	root.PersistentFlags().StringVar(&opts.server, "server", envOr("JESSEVERSE_URL", defaultServer), "hub base URL (env JESSEVERSE_URL)")
	root.PersistentFlags().StringVar(&opts.apiKey, "api-key", "", "admin API key (env JESSEVERSE_API_KEY)")
	root.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("JESSEVERSE_TOKEN"), "admin JWT, used when no API key is set (env JESSEVERSE_TOKEN)")

	root.AddCommand(
		newListCmd(opts),
		newGetCmd(opts),
		newRegisterCmd(opts),
		newRemoveCmd(opts),
		newPreviewCmd(opts),
		newProbeCmd(opts),
		newExecCmd(opts),
		newRefreshCmd(opts),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var (
	cyan   = color.New(color.FgCyan)
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed)
	gray   = color.New(color.FgHiBlack)
)

func newListCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered extensions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			exts, err := opts.client().list(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(exts) == 0 {
				gray.Fprintln(out, "No extensions registered.")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tTITLE\tVERSION\tURL")
			for _, ext := range exts {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", ext.Name, ext.Title, ext.Version, ext.URL)
			}
			return w.Flush()
		},
	}
}

func newGetCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "get NAME",
		Short: "Show one extension and its live capabilities",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := opts.client()
			ext, err := client.get(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			cyan.Fprintf(out, "%s", ext.Title)
			gray.Fprintf(out, " (%s)\n", ext.Name)
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "  URL:\t%s\n", ext.URL)
			fmt.Fprintf(w, "  Version:\t%s\n", ext.Version)
			if ext.Author != "" {
				fmt.Fprintf(w, "  Author:\t%s\n", ext.Author)
			}
			if ext.HomepageURL != "" {
				fmt.Fprintf(w, "  Homepage:\t%s\n", ext.HomepageURL)
			}
			fmt.Fprintf(w, "  Description:\t%s\n", ext.Description)
			fmt.Fprintf(w, "  Registered:\t%s\n", ext.RegisteredAt.Local().Format("Jan 02, 2006 15:04"))
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintln(out)

			caps, err := client.capabilities(cmd.Context(), ext.Name)
			if err != nil {
				red.Fprintf(out, "  could not fetch capabilities: %v\n", err)
				return nil
			}
			printCapabilities(out, caps)
			return nil
		},
	}
}

func newRegisterCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "register NAME URL",
		Short: "Register (or replace) an extension",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ext, err := opts.client().register(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			green.Fprintf(cmd.OutOrStdout(), "✓ Registered %s (%s v%s) at %s\n", ext.Name, ext.Title, ext.Version, ext.URL)
			return nil
		},
	}
}

func newRemoveCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:     "remove NAME",
		Aliases: []string{"rm"},
		Short:   "Remove an extension",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.client().remove(cmd.Context(), args[0]); err != nil {
				return err
			}
			green.Fprintf(cmd.OutOrStdout(), "✓ Removed %s\n", args[0])
			return nil
		},
	}
}

func newPreviewCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "preview URL",
		Short: "Show what an extension would register as, without storing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := opts.client().preview(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			cyan.Fprintf(out, "%s", p.Info.Title)
			gray.Fprintf(out, " v%s\n", p.Info.Version)
			fmt.Fprintf(out, "  %s\n\n", p.Info.Description)
			printCapabilities(out, p.Capabilities)
			return nil
		},
	}
}

func newProbeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "probe URL",
		Short: "Check that an extension answers /info and /capabilities",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := opts.client().probe(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "URL\t%s\n", p.URL)
			fmt.Fprintf(w, "/info\t%s\n", okMark(p.InfoOK))
			fmt.Fprintf(w, "/capabilities\t%s\n", okMark(p.CapabilitiesOK))
			fmt.Fprintf(w, "latency\t%dms\n", p.LatencyMS)
			if err := w.Flush(); err != nil {
				return err
			}
			if p.Error != "" {
				red.Fprintf(out, "%s\n", p.Error)
				return errors.New("probe failed")
			}
			return nil
		},
	}
}

func newExecCmd(opts *options) *cobra.Command {
	var paramsJSON string
	cmd := &cobra.Command{
		Use:   "exec NAME ACTION",
		Short: "Run an action on an extension directly",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			params := map[string]any{}
			if paramsJSON != "" {
				if err := json.Unmarshal([]byte(paramsJSON), &params); err != nil {
					return fmt.Errorf("--params must be a JSON object: %w", err)
				}
			}

			res, err := opts.client().execute(cmd.Context(), args[0], args[1], params)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if !res.Success {
				msg := res.Error
				if msg == "" {
					msg = "Unknown error"
				}
				red.Fprintf(out, "✗ %s\n", msg)
				return errors.New("action failed")
			}
			if len(res.Data) == 0 || string(res.Data) == "null" {
				green.Fprintln(out, "✓ Done.")
				return nil
			}
			pretty, err := json.MarshalIndent(res.Data, "", "  ")
			if err != nil {
				pretty = res.Data
			}
			fmt.Fprintln(out, string(pretty))
			return nil
		},
	}
	cmd.Flags().StringVarP(&paramsJSON, "params", "p", "", `action parameters as a JSON object, e.g. '{"a":2}'`)
	return cmd
}

func newRefreshCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Re-read /info for every registered extension",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := opts.client().refresh(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "checked %d, updated %d, failed %d\n", r.Checked, r.Updated, r.Failed)
			for _, e := range r.Errors {
				yellow.Fprintf(out, "  ! %s\n", e)
			}
			return nil
		},
	}
}

func okMark(ok bool) string {
	if ok {
		return green.Sprint("ok")
	}
	return red.Sprint("failed")
}

// printCapabilities writes one block per action with an aligned parameter table.
func printCapabilities(out io.Writer, caps []capability) {
	if len(caps) == 0 {
		gray.Fprintln(out, "  (no capabilities)")
		return
	}
	for _, c := range caps {
		yellow.Fprintf(out, "  %s", c.Name)
		fmt.Fprintf(out, "  %s\n", c.Description)
		if len(c.Parameters) == 0 {
			continue
		}
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		for _, p := range c.Parameters {
			req := "optional"
			if p.Required {
				req = "required"
			}
			desc := p.Description
			if len(p.Enum) > 0 {
				desc = strings.TrimSpace(desc + " [" + strings.Join(p.Enum, " | ") + "]")
			}
			fmt.Fprintf(w, "      %s\t%s\t%s\t%s\n", p.Name, p.Type, req, desc)
		}
		_ = w.Flush()
	}
}
