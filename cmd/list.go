package cmd

import (
	"context"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/BioHazard786/roomline/internal/config"
	"github.com/BioHazard786/roomline/internal/store"
	"github.com/BioHazard786/roomline/internal/ui"
	"github.com/BioHazard786/roomline/internal/workspace"
)

var threadsCmd = collectionCmd("threads", workspace.ThreadsPath, "thread")

var roomsCmd = collectionCmd("rooms", workspace.RoomsPath, "room")

// collectionCmd builds the list and create commands for one collection.
func collectionCmd(use, path, noun string) *cobra.Command {
	list := &cobra.Command{
		Use:   use,
		Short: fmt.Sprintf("List %s", use),
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := storeFromFlags(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			entries, err := listEntries(cmd.Context(), s, path)
			if err != nil {
				return err
			}
			renderEntries(os.Stdout, noun, entries)
			return nil
		},
	}

	create := &cobra.Command{
		Use:   "create <title>",
		Short: fmt.Sprintf("Create a %s", noun),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := storeFromFlags(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			key, err := createEntry(cmd.Context(), s, path, args[0])
			if err != nil {
				return err
			}
			ui.PrintSuccessf("Created %s %s", noun, key)
			return nil
		},
	}

	list.AddCommand(create)
	return list
}

type entry struct {
	Key   string `json:"-"`
	Title string `json:"title"`
}

func listEntries(ctx context.Context, s store.Store, path string) ([]entry, error) {
	node, err := s.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	if !node.Exists {
		return nil, nil
	}

	var byKey map[string]entry
	if err := node.Decode(&byKey); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	// Keys are ULIDs, so key order is creation order.
	keys := slices.Sorted(maps.Keys(byKey))
	entries := make([]entry, 0, len(keys))
	for _, k := range keys {
		e := byKey[k]
		e.Key = k
		entries = append(entries, e)
	}
	return entries, nil
}

func createEntry(ctx context.Context, s store.Store, path, title string) (string, error) {
	if title == "" {
		return "", fmt.Errorf("title is required")
	}
	key := s.NewKey()
	if err := s.Set(ctx, store.Join(path, key), map[string]any{"title": title}); err != nil {
		return "", err
	}
	return key, nil
}

func renderEntries(w io.Writer, noun string, entries []entry) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.Style().Format.Header = text.FormatUpper
	t.Style().Format.Footer = text.FormatDefault
	t.AppendHeader(table.Row{"#", "Key", "Title"})
	for i, e := range entries {
		t.AppendRow(table.Row{i + 1, e.Key, e.Title})
	}
	t.AppendFooter(table.Row{"", "Total", fmt.Sprintf("%d %s(s)", len(entries), noun)})
	t.Render()
}

func storeFromFlags(ctx context.Context) (store.Store, error) {
	cfg, err := LoadConfig(config.Options{RedisAddr: flagRedis})
	if err != nil {
		return nil, err
	}
	return openStore(ctx, cfg, false)
}

func init() {
	for _, c := range []*cobra.Command{threadsCmd, roomsCmd} {
		c.PersistentFlags().StringVar(&flagRedis, "redis", "", "Redis address")
		rootCmd.AddCommand(c)
	}
}
