package main

import (
	"context"
	"fmt"
	"io"

	"github.com/always-cache/offline-cache/cache"

	"github.com/spf13/cobra"
)

type versionsOptions struct {
	Provider string
	DB       string
	Keys     bool
}

func newVersionsCommand() *cobra.Command {
	opts := versionsOptions{}
	cmd := &cobra.Command{
		Use:   "versions",
		Short: "List the store versions present in the store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			bindFlags(cmd, map[string]string{
				"provider": "provider",
				"db":       "db",
			})
			c, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := cache.Open(c.Storage.Provider, c.Storage.Path)
			if err != nil {
				return err
			}
			defer store.Close()
			return listVersions(cmd.Context(), cmd.OutOrStdout(), store, opts.Keys)
		},
	}
	cmd.Flags().StringVar(&opts.Provider, "provider", "", "Store provider (sqlite, leveldb or memory)")
	cmd.Flags().StringVar(&opts.DB, "db", "", "Store file or directory")
	cmd.Flags().BoolVar(&opts.Keys, "keys", false, "Also list the stored request keys")
	return cmd
}

func listVersions(ctx context.Context, out io.Writer, store cache.Provider, withKeys bool) error {
	versions, err := store.Versions(ctx)
	if err != nil {
		return err
	}
	for _, v := range versions {
		fmt.Fprintln(out, v)
		if !withKeys {
			continue
		}
		keys, err := store.Keys(ctx, v)
		if err != nil {
			return err
		}
		for _, k := range keys {
			fmt.Fprintf(out, "  %s\n", k)
		}
	}
	return nil
}
