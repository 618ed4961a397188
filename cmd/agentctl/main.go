// agentctl is a small CLI client for the agent server: it builds action
// requests from arguments and posts them to the unified action endpoint.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

var (
	serverURL string
	tabRef    string
	timeoutMS int
)

func main() {
	root := &cobra.Command{
		Use:           "agentctl",
		Short:         "Drive a running browser through the web_agent server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&serverURL, "server", envOr("AGENT_URL", "http://127.0.0.1:8470"), "agent server base URL")
	root.PersistentFlags().StringVar(&tabRef, "tab", "0", "tab index or target identifier")
	root.PersistentFlags().IntVar(&timeoutMS, "timeout", 0, "action timeout in milliseconds (0 = server default)")

	root.AddCommand(
		navigateCmd(),
		clickCmd(),
		typeCmd(),
		selectCmd(),
		attrCmd(),
		extractCmd(),
		screenshotCmd(),
		evalCmd(),
		awaitElementCmd(),
		awaitTextCmd(),
		tabsCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func navigateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "navigate URL",
		Short: "Navigate the tab and wait for the page to load",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return performAction("navigate", "", args[0:1])
		},
	}
}

func clickCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "click SELECTOR",
		Short: "Click the first element matching a CSS or XPath selector",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return performAction("click", args[0], nil)
		},
	}
}

func typeCmd() *cobra.Command {
	var submit bool
	cmd := &cobra.Command{
		Use:   "type SELECTOR TEXT",
		Short: "Type text into an input; --submit presses Enter afterwards",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := args[1]
			if submit {
				text += "\n"
			}
			return performAction("type", args[0], []string{text})
		},
	}
	cmd.Flags().BoolVar(&submit, "submit", false, "press Enter after typing")
	return cmd
}

func selectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "select SELECTOR VALUE...",
		Short: "Select option value(s) in a select element",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return performAction("select", args[0], args[1:])
		},
	}
}

func attrCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "attr SELECTOR NAME",
		Short: "Read an attribute from the first matching element",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return performAction("attr", args[0], args[1:2])
		},
	}
}

func extractCmd() *cobra.Command {
	var selector, format string
	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Extract page or element content as text, html, or markdown",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return performAction("extract", selector, []string{format})
		},
	}
	cmd.Flags().StringVar(&selector, "selector", "", "optional element selector")
	cmd.Flags().StringVar(&format, "format", "text", "output format: text, html, markdown")
	return cmd
}

func screenshotCmd() *cobra.Command {
	var selector string
	cmd := &cobra.Command{
		Use:   "screenshot PATH",
		Short: "Capture the page (or an element) to a PNG file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return performAction("screenshot", selector, args[0:1])
		},
	}
	cmd.Flags().StringVar(&selector, "selector", "", "optional element selector to bound the capture")
	return cmd
}

func evalCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "eval CODE",
		Short: "Evaluate JavaScript in the page and print the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return performAction("eval", "", args[0:1])
		},
	}
}

func awaitElementCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "await-element SELECTOR",
		Short: "Wait until an element matching the selector exists",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return performAction("await_element", args[0], nil)
		},
	}
}

func awaitTextCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "await-text TEXT",
		Short: "Wait until the text appears in the page",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return performAction("await_text", "", args[0:1])
		},
	}
}

func tabsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tabs",
		Short: "Manage browser tabs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return performAction("list_tabs", "", nil)
		},
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "new [URL]",
			Short: "Open a new tab, optionally navigating it",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return performAction("new_tab", "", args)
			},
		},
		&cobra.Command{
			Use:   "close",
			Short: "Close the tab addressed by --tab",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return performAction("close_tab", "", nil)
			},
		},
	)
	return cmd
}

func performAction(action, selector string, payload []string) error {
	body := map[string]any{"action": action}
	if idx, err := strconv.Atoi(tabRef); err == nil {
		body["tab"] = idx
	} else {
		body["tab"] = tabRef
	}
	if selector != "" {
		body["selector"] = selector
	}
	switch len(payload) {
	case 0:
	case 1:
		body["payload"] = payload[0]
	default:
		body["payload"] = payload
	}
	if timeoutMS > 0 {
		body["timeout"] = timeoutMS
	}

	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	client := &http.Client{Timeout: 90 * time.Second}
	resp, err := client.Post(serverURL+"/api/v1/action", "application/json", bytes.NewReader(data))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode != http.StatusOK {
		var problem struct {
			Title  string `json:"title"`
			Detail string `json:"detail"`
		}
		if json.Unmarshal(raw, &problem) == nil && problem.Detail != "" {
			return fmt.Errorf("%s: %s", problem.Title, problem.Detail)
		}
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(raw))
	}

	var out struct {
		Result string `json:"result"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return err
	}
	fmt.Println(out.Result)
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
