package commands

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/agentcore/runtime/pkg/agentcore/config"
	"github.com/agentcore/runtime/pkg/agentcore/vault"
)

// newVaultCmd manages the encrypted secret vault.
func newVaultCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vault",
		Short: "Manage the encrypted secret vault",
	}
	cmd.AddCommand(
		newVaultInitCmd(),
		newVaultSetCmd(),
		newVaultListCmd(),
		newVaultRemoveCmd(),
	)
	return cmd
}

func openVault(cmd *cobra.Command) (*vault.FileVault, error) {
	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.EnsureDataDir(); err != nil {
		return nil, err
	}
	return vault.NewFile(cfg.VaultPath), nil
}

func unlockVault(cmd *cobra.Command) (*vault.FileVault, error) {
	v, err := openVault(cmd)
	if err != nil {
		return nil, err
	}
	if !v.Exists() {
		return nil, fmt.Errorf("no vault found; run `agentcore vault init` first")
	}
	password, err := vault.ReadPassword("Vault password: ")
	if err != nil {
		return nil, err
	}
	if err := v.Unlock(password); err != nil {
		return nil, err
	}
	return v, nil
}

func newVaultInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the vault with a new master password",
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := openVault(cmd)
			if err != nil {
				return err
			}
			if v.Exists() {
				return fmt.Errorf("vault already exists")
			}
			password, err := vault.ReadPassword("New master password: ")
			if err != nil {
				return err
			}
			confirm, err := vault.ReadPassword("Repeat password: ")
			if err != nil {
				return err
			}
			if password != confirm {
				return fmt.Errorf("passwords do not match")
			}
			if err := v.Create(password); err != nil {
				return err
			}
			fmt.Println("Vault created.")
			return nil
		},
	}
}

func newVaultSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <name>",
		Short: "Store a secret (value is prompted, never an argument)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := unlockVault(cmd)
			if err != nil {
				return err
			}
			value, err := vault.ReadPassword("Value for " + args[0] + ": ")
			if err != nil {
				return err
			}
			if err := v.Set(args[0], value); err != nil {
				return err
			}
			fmt.Println("Stored.")
			return nil
		},
	}
}

func newVaultListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored secret names",
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := unlockVault(cmd)
			if err != nil {
				return err
			}
			keys := v.Keys()
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Println(k)
			}
			return nil
		},
	}
}

func newVaultRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <name>",
		Short: "Delete a secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := unlockVault(cmd)
			if err != nil {
				return err
			}
			if err := v.Delete(args[0]); err != nil {
				return err
			}
			fmt.Println("Removed.")
			return nil
		},
	}
}
