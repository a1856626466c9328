package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/matheus3301/huddle/internal/backend"
	"github.com/matheus3301/huddle/internal/client"
	"github.com/matheus3301/huddle/internal/config"
	"github.com/matheus3301/huddle/internal/session"
	"github.com/spf13/cobra"
)

var (
	signinToken   string
	signinBaseURL string
)

func init() {
	rootCmd.AddCommand(signinCmd)
	signinCmd.Flags().StringVar(&signinToken, "token", "", "store this access token in the config")
	signinCmd.Flags().StringVar(&signinBaseURL, "base-url", "", "store this backend base URL in the config")
}

var signinCmd = &cobra.Command{
	Use:   "signin",
	Short: "Show the sign-in QR code, or store an access token",
	Long: `Without --token, prints the configured sign-in URL as a QR code to scan
with a signed-in device. With --token, writes the token to the config file;
restart the daemon to pick it up.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		path := session.ConfigPath()
		cfg, err := config.LoadOrDefault(path)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		if signinToken == "" && signinBaseURL == "" {
			if cfg.Backend.SignInURL == "" {
				return errors.New("no sign_in_url configured; pass --token instead")
			}
			qr, err := client.RenderQR(cfg.Backend.SignInURL)
			if err != nil {
				return err
			}
			fmt.Print(qr)
			fmt.Printf("\nScan to sign in: %s\n", cfg.Backend.SignInURL)
			return nil
		}

		if signinBaseURL != "" {
			cfg.Backend.BaseURL = signinBaseURL
		}
		if signinToken != "" {
			cfg.Backend.Token = signinToken
		}
		cfg.Normalize()
		if err := config.Save(path, cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}
		fmt.Printf("Saved %s\n", path)
		if exp, ok := backend.TokenExpiry(signinToken); ok {
			if time.Now().After(exp) {
				fmt.Printf("Warning: token expired at %s\n", exp.Local().Format(time.RFC1123))
			} else {
				fmt.Printf("Token valid until %s\n", exp.Local().Format(time.RFC1123))
			}
		}
		return nil
	},
}
