package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/awebhq/aweb/internal/common/config"
)

var initOutputPath string

func newInitCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Scaffold a development config.yaml with random custody and proxy secrets",
		RunE:  runInit,
	}
	cmd.Flags().StringVar(&initOutputPath, "output", "config.yaml", "path to write the scaffolded config")
	return cmd
}

func runInit(_ *cobra.Command, _ []string) error {
	masterKeyHex, err := config.RandomHexSecret(32)
	if err != nil {
		return fmt.Errorf("generate custody master key: %w", err)
	}
	proxySecret, err := config.RandomHexSecret(32)
	if err != nil {
		return fmt.Errorf("generate proxy secret: %w", err)
	}

	scaffold := map[string]any{
		"server": map[string]any{
			"host":         "0.0.0.0",
			"port":         8080,
			"readTimeout":  30,
			"writeTimeout": 30,
		},
		"database": map[string]any{
			"host":     "localhost",
			"port":     5432,
			"user":     "aweb",
			"password": "aweb",
			"dbName":   "aweb",
			"sslMode":  "disable",
		},
		"custody": map[string]any{
			"masterKeyHex": masterKeyHex,
		},
		"auth": map[string]any{
			"trustProxyHeaders": false,
			"proxySecret":       proxySecret,
		},
		"logging": map[string]any{
			"level":  "info",
			"format": "text",
		},
	}

	out, err := yaml.Marshal(scaffold)
	if err != nil {
		return fmt.Errorf("marshal config scaffold: %w", err)
	}
	if err := os.WriteFile(initOutputPath, out, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", initOutputPath, err)
	}

	fmt.Printf("wrote %s (custody.masterKeyHex and auth.proxySecret are freshly generated; keep this file private)\n", initOutputPath)
	return nil
}
