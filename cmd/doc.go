package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"firetick/internal/auth"
	"firetick/internal/bridge"
	"firetick/internal/client"
	"firetick/internal/docstore"
)

// docTimeout bounds the wait for a single document call, including the
// credential refresh that may precede it.
const docTimeout = 30 * time.Second

var docCmd = &cobra.Command{
	Use:   "doc",
	Short: "Read, write and watch documents",
	Long: `Work with documents in the configured database.

Paths are collection/document pairs, e.g. users/42 or
users/42/saves/slot1.

Examples:
  firetick doc get users/42
  firetick doc set users/42 name=zelda level=7
  firetick doc delete users/42
  firetick doc watch users/42`,
}

var docGetCmd = &cobra.Command{
	Use:   "get <path>",
	Short: "Fetch a document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSignedInClient(cmd, func(c *client.Client) error {
			handle, err := c.Get(args[0])
			if err != nil {
				return err
			}
			return awaitResult(cmd, c, handle, func(res docstore.RPCResult) error {
				return printDocument(res.Doc)
			})
		})
	},
}

var docSetCmd = &cobra.Command{
	Use:   "set <path> <field=value>...",
	Short: "Write a document",
	Long: `Write fields to a document, creating it if absent. Values parse
as JSON when possible (7 is a number, true a boolean) and fall back to
plain strings.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		fields, err := parseFields(args[1:])
		if err != nil {
			return err
		}
		return withSignedInClient(cmd, func(c *client.Client) error {
			handle, err := c.Set(args[0], fields)
			if err != nil {
				return err
			}
			return awaitResult(cmd, c, handle, func(res docstore.RPCResult) error {
				if !quietOutput {
					fmt.Printf("Wrote %s\n", args[0])
				}
				return nil
			})
		})
	},
}

var docDeleteCmd = &cobra.Command{
	Use:   "delete <path>",
	Short: "Delete a document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSignedInClient(cmd, func(c *client.Client) error {
			handle, err := c.Delete(args[0])
			if err != nil {
				return err
			}
			return awaitResult(cmd, c, handle, func(res docstore.RPCResult) error {
				if !quietOutput {
					fmt.Printf("Deleted %s\n", args[0])
				}
				return nil
			})
		})
	},
}

var docWatchCmd = &cobra.Command{
	Use:   "watch <path>",
	Short: "Stream changes to a document until interrupted",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSignedInClient(cmd, func(c *client.Client) error {
			handle, err := c.Watch(args[0])
			if err != nil {
				return err
			}
			if !quietOutput {
				fmt.Printf("Watching %s (interrupt to stop)\n", args[0])
			}

			err = pollFor(cmd.Context(), c, 0, func(ev bridge.Event) (bool, error) {
				switch e := ev.(type) {
				case docstore.DocumentChanged:
					if e.Handle.ID != handle.ID {
						return false, nil
					}
					if e.Deleted {
						fmt.Printf("%s deleted\n", e.Path)
						return false, nil
					}
					fmt.Printf("%s @%d\n", e.Path, e.Doc.Version)
					return false, printDocument(e.Doc)
				case docstore.StreamDropped:
					return false, fmt.Errorf("watch stream dropped: %w", e.Err)
				case auth.AuthFailed:
					return false, &authFailedError{err: e.Err}
				default:
					return false, nil
				}
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	},
}

func init() {
	docCmd.AddCommand(docGetCmd)
	docCmd.AddCommand(docSetCmd)
	docCmd.AddCommand(docDeleteCmd)
	docCmd.AddCommand(docWatchCmd)
}

// withSignedInClient builds the client from the stored credential, waits
// for it to become live (including an initial refresh when the stored
// token expired) and runs fn.
func withSignedInClient(cmd *cobra.Command, fn func(c *client.Client) error) error {
	token, err := loadToken()
	if err != nil {
		return err
	}
	if token == nil {
		return &authRequiredError{msg: "not signed in; run 'firetick login'"}
	}

	ctx := cmd.Context()
	c, err := newClient(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	// The restored token is applied during PollEvents, possibly after a
	// refresh round trip; wait for it before submitting calls.
	err = pollFor(ctx, c, docTimeout, func(ev bridge.Event) (bool, error) {
		switch e := ev.(type) {
		case auth.TokenUpdated:
			return true, nil
		case auth.AuthFailed:
			return false, &authFailedError{err: e.Err}
		default:
			return false, nil
		}
	})
	if err != nil {
		return err
	}

	// Persist the (possibly refreshed) credential for the next run.
	if fresh, ok := c.CurrentToken(); ok {
		if err := saveToken(fresh); err != nil {
			return err
		}
	}

	return fn(c)
}

// awaitResult polls until the call's terminal RPCResult arrives.
func awaitResult(cmd *cobra.Command, c *client.Client, handle docstore.Handle, fn func(res docstore.RPCResult) error) error {
	return pollFor(cmd.Context(), c, docTimeout, func(ev bridge.Event) (bool, error) {
		res, ok := ev.(docstore.RPCResult)
		if !ok || res.Handle.ID != handle.ID {
			return false, nil
		}
		if res.Err != nil {
			return false, res.Err
		}
		return true, fn(res)
	})
}

func printDocument(doc *docstore.Document) error {
	if doc == nil {
		return nil
	}
	data, err := json.MarshalIndent(doc.Fields, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// parseFields turns key=value arguments into document fields. Values parse
// as JSON when possible and fall back to plain strings.
func parseFields(args []string) (map[string]any, error) {
	fields := make(map[string]any, len(args))
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid field %q, expected key=value", arg)
		}

		var parsed any
		if err := json.Unmarshal([]byte(value), &parsed); err != nil {
			parsed = value
		}
		fields[key] = parsed
	}
	return fields, nil
}
