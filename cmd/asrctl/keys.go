package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kiranshivaraju/asrrelay/internal/apikey"
	"github.com/kiranshivaraju/asrrelay/internal/config"
	"github.com/kiranshivaraju/asrrelay/internal/store"
	"github.com/kiranshivaraju/asrrelay/pkg/models"
)

const dbTimeout = 30 * time.Second

func newKeysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage API keys",
	}
	cmd.AddCommand(newKeysCreateCmd(), newKeysListCmd())
	return cmd
}

func newKeysCreateCmd() *cobra.Command {
	var (
		name   string
		scopes string
		tenant string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Issue an API key and print it once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			scopeList := parseScopes(scopes)
			if err := apikey.ValidateScopes(scopeList); err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), dbTimeout)
			defer cancel()

			s, closeStore, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			t, err := s.GetTenantByName(ctx, tenant)
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("tenant %q not found", tenant)
			}
			if err != nil {
				return err
			}

			issued, err := apikey.Generate(t.ID, name, scopeList)
			if err != nil {
				return err
			}
			if err := s.CreateAPIKey(ctx, issued.Key); err != nil {
				if errors.Is(err, store.ErrDuplicateKey) {
					return fmt.Errorf("a key named %q already exists for tenant %q", name, tenant)
				}
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "id:     %s\n", issued.Key.ID)
			fmt.Fprintf(out, "scopes: %s\n", strings.Join(issued.Key.Scopes, ","))
			fmt.Fprintf(out, "key:    %s\n", issued.Raw)
			fmt.Fprintln(out, "Store this key now; it cannot be shown again.")
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key name (unique per tenant)")
	cmd.Flags().StringVar(&scopes, "scopes", models.ScopeAdmin, "comma-separated scopes: submit, read, admin")
	cmd.Flags().StringVar(&tenant, "tenant", store.DefaultTenant, "tenant name")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newKeysListCmd() *cobra.Command {
	var tenant string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List active API keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), dbTimeout)
			defer cancel()

			s, closeStore, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			t, err := s.GetTenantByName(ctx, tenant)
			if err != nil {
				return fmt.Errorf("tenant %q: %w", tenant, err)
			}
			keys, err := s.ListAPIKeys(ctx, t.ID)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tPREFIX\tSCOPES\tCREATED")
			for _, k := range keys {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", k.ID, k.Name, k.KeyPrefix,
					strings.Join(k.Scopes, ","), k.CreatedAt.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&tenant, "tenant", store.DefaultTenant, "tenant name")
	return cmd
}

func openStore(ctx context.Context) (store.Store, func(), error) {
	db, err := config.LoadDatabase()
	if err != nil {
		return nil, nil, err
	}
	pool, err := store.Connect(ctx, db)
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}
	return store.NewPostgresStore(pool), pool.Close, nil
}

func parseScopes(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
