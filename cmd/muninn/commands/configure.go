package commands

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bl4ck0w1/muninn/pkg/models"
	"github.com/bl4ck0w1/muninn/pkg/utils"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

func NewConfigureCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "configure",
		Short: "Manage Muninn configuration",
		Long:  `Initialize a configuration file or view the effective settings.`,
	}
	cmd.AddCommand(newConfigureInitCommand())
	cmd.AddCommand(newConfigureShowCommand())
	return cmd
}

func defaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".muninn", "config.yaml"), nil
}

func newConfigureInitCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a configuration file with default values",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			force, _ := cmd.Flags().GetBool("force")
			withAuth, _ := cmd.Flags().GetBool("with-auth")

			path := ""
			if len(args) == 1 {
				path = args[0]
			} else {
				p, err := defaultConfigPath()
				if err != nil {
					return err
				}
				path = p
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}

			cfg := models.DefaultConfig()
			if withAuth {
				secret, err := utils.GenerateJWTSecret()
				if err != nil {
					return err
				}
				cfg.API.Auth.Enabled = true
				cfg.API.Auth.JWTSecret = secret
			}
			if err := cfg.Save(path); err != nil {
				return err
			}
			logrus.Infof("Configuration written to %s", path)
			if withAuth {
				fmt.Println("Auth enabled. Set api.auth.admin_password_hash with `muninn hash-password`.")
			}
			return nil
		},
	}
	cmd.Flags().Bool("force", false, "Overwrite an existing file")
	cmd.Flags().Bool("with-auth", false, "Enable API authentication with a generated JWT secret")
	return cmd
}

func newConfigureShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Long:  `Show the configuration after defaults, config file and environment are merged. Secrets are masked.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := models.FromViper(viper.GetViper())
			maskSecret(&cfg.AI.APIKey)
			maskSecret(&cfg.ThreatIntel.APIKey)
			maskSecret(&cfg.API.Auth.JWTSecret)
			maskSecret(&cfg.API.Auth.AdminPasswordHash)

			if used := viper.ConfigFileUsed(); used != "" {
				fmt.Printf("# %s\n", used)
			}
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("marshal config: %w", err)
			}
			fmt.Print(string(out))
			if err := cfg.Validate(); err != nil {
				logrus.Warn(err)
			}
			return nil
		},
	}
}

func maskSecret(s *string) {
	if *s != "" {
		*s = utils.MaskSensitiveData(*s)
	}
}
