package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/robinclaw/robinclaw/internal/app"
	"github.com/robinclaw/robinclaw/internal/custody"
	"github.com/robinclaw/robinclaw/pkg/secretstore"
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Generate key material",
}

var keysGenCmd = &cobra.Command{
	Use:   "gen",
	Short: "Print a fresh 32-byte key (base64) for ROBINCLAW_MASTER_KEY or ROBINCLAW_SECRET_KEY",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		k, err := custody.GenerateMasterKey()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), k)
		return nil
	},
}

var secretsCmd = &cobra.Command{
	Use:   "secrets",
	Short: "Manage the encrypted custody secret store",
	Long: `Manage the badger secret store named by ROBINCLAW_SECRET_DB.

The store is encrypted with ROBINCLAW_SECRET_KEY. Secrets in it take precedence over
the matching environment variables.

Subcommands:
  import-master-key  - Store the key that seals agent wallets
  init-mnemonic      - Store the mnemonic HD wallets are derived from
  status             - Show which secrets are present`,
}

var secretsImportMasterKeyCmd = &cobra.Command{
	Use:   "import-master-key [key]",
	Short: "Store the wallet sealing key (defaults to ROBINCLAW_MASTER_KEY)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runImportMasterKey,
}

var secretsInitMnemonicCmd = &cobra.Command{
	Use:   "init-mnemonic",
	Short: "Store the HD wallet mnemonic, read from stdin or generated",
	Args:  cobra.NoArgs,
	RunE:  runInitMnemonic,
}

var secretsStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show which custody secrets are present",
	Args:  cobra.NoArgs,
	RunE:  runSecretsStatus,
}

var (
	secretsForce     bool
	mnemonicGenerate bool
)

func init() {
	rootCmd.AddCommand(keysCmd)
	rootCmd.AddCommand(secretsCmd)
	keysCmd.AddCommand(keysGenCmd)
	secretsCmd.AddCommand(secretsImportMasterKeyCmd)
	secretsCmd.AddCommand(secretsInitMnemonicCmd)
	secretsCmd.AddCommand(secretsStatusCmd)

	secretsCmd.PersistentFlags().BoolVar(&secretsForce, "force", false, "overwrite an existing secret")
	secretsInitMnemonicCmd.Flags().BoolVar(&mnemonicGenerate, "generate", false, "generate a new 24-word mnemonic instead of reading one")
}

func openSecrets(readOnly bool) (*secretstore.Store, string, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, "", err
	}
	if cfg.Custody.SecretDBPath == "" {
		return nil, "", errors.New("ROBINCLAW_SECRET_DB is not set")
	}
	if cfg.Custody.SecretKey == "" {
		return nil, "", errors.New("ROBINCLAW_SECRET_KEY is required to open the secret store")
	}
	s, err := app.OpenSecrets(cfg, readOnly)
	if err != nil {
		return nil, "", err
	}
	return s, cfg.Custody.DerivationPath, nil
}

func putSecret(s *secretstore.Store, key, val string) error {
	if !secretsForce {
		if _, ok, err := s.GetString(key); err != nil {
			return err
		} else if ok {
			return fmt.Errorf("%s already exists (use --force to overwrite)", key)
		}
	}
	return s.SetString(key, val)
}

func runImportMasterKey(cmd *cobra.Command, args []string) error {
	raw := os.Getenv("ROBINCLAW_MASTER_KEY")
	if len(args) == 1 {
		raw = args[0]
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return errors.New("no key given and ROBINCLAW_MASTER_KEY is empty")
	}
	if _, err := secretstore.ParseKey(raw); err != nil {
		return err
	}
	s, _, err := openSecrets(false)
	if err != nil {
		return err
	}
	defer s.Close()
	if err := putSecret(s, secretstore.KeyMasterKey, raw); err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "%s stored %s\n", upStyle.Render("✓"), secretstore.KeyMasterKey)
	return nil
}

func runInitMnemonic(cmd *cobra.Command, args []string) error {
	var mn string
	if mnemonicGenerate {
		var err error
		if mn, err = custody.NewMnemonic(); err != nil {
			return err
		}
	} else {
		fmt.Fprintln(cmd.ErrOrStderr(), "Enter the mnemonic (12/15/18/21/24 words), then press enter:")
		line, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		mn = strings.Join(strings.Fields(line), " ")
	}
	if mn == "" {
		return errors.New("mnemonic is empty")
	}

	s, path, err := openSecrets(false)
	if err != nil {
		return err
	}
	defer s.Close()

	first, err := custody.PreviewAddress(mn, path, 0)
	if err != nil {
		return err
	}
	if err := putSecret(s, secretstore.KeyMnemonic, mn); err != nil {
		return err
	}
	out := cmd.ErrOrStderr()
	fmt.Fprintf(out, "%s stored %s\n", upStyle.Render("✓"), secretstore.KeyMnemonic)
	fmt.Fprintf(out, "first wallet (%s): %s\n", fmt.Sprintf(path, 0), first)
	if mnemonicGenerate {
		fmt.Fprintln(out, downStyle.Render("Write this mnemonic down; it is the only backup of every agent wallet:"))
		fmt.Fprintln(cmd.OutOrStdout(), mn)
	}
	return nil
}

func runSecretsStatus(cmd *cobra.Command, args []string) error {
	s, _, err := openSecrets(true)
	if err != nil {
		return err
	}
	defer s.Close()
	rows := [][]string{}
	for _, k := range []string{secretstore.KeyMasterKey, secretstore.KeyMnemonic} {
		_, ok, err := s.GetString(k)
		if err != nil {
			return err
		}
		state := downStyle.Render("missing")
		if ok {
			state = upStyle.Render("present")
		}
		rows = append(rows, []string{k, state})
	}
	fmt.Fprintln(cmd.OutOrStdout(), table([]string{"SECRET", "STATE"}, rows))
	return nil
}
