package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"

	"github.com/felixgeelhaar/certledger/internal/auth"
	"github.com/felixgeelhaar/certledger/internal/config"
	"github.com/felixgeelhaar/certledger/internal/domain"
)

// cmdInit initializes certledger for first-time use
func cmdInit() error {
	fmt.Println("certledger - First-Time Setup")
	fmt.Println("=============================")
	fmt.Println()

	fmt.Print("Creating ~/.certledger directory structure... ")
	dir, err := config.EnsureDir()
	if err != nil {
		return fmt.Errorf("create directories: %w", err)
	}
	fmt.Println(color.GreenString("✓"))

	configPath := filepath.Join(dir, "config.yaml")
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := config.DefaultLocalConfig()

		owner, err := promptOwner(bufio.NewReader(os.Stdin), os.Stdout)
		if err != nil {
			return err
		}
		cfg.Registry.Owner = owner.String()

		fmt.Print("Creating configuration... ")
		if err := config.SaveLocalConfig(cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}
		fmt.Println(color.GreenString("✓"))
	} else {
		fmt.Println("Configuration already exists", color.GreenString("✓"))
	}

	cfg, err := config.LoadLocalConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Auth.Secret == "" {
		fmt.Print("Generating token signing secret... ")
		secret, err := auth.GenerateSecret(32)
		if err != nil {
			return err
		}
		if err := config.SaveSecrets(secret); err != nil {
			return fmt.Errorf("save secrets: %w", err)
		}
		fmt.Println(color.GreenString("✓"))
	} else {
		fmt.Println("Signing secret already exists", color.GreenString("✓"))
	}

	fmt.Println()
	fmt.Println("Setup Complete!")
	fmt.Println("===============")
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  1. certledger start                         # Start the daemon")
	fmt.Println("  2. certledger --as <owner> course add 1     # Register a course")
	fmt.Println("  3. certledger status                        # Check the registry")
	fmt.Println()
	fmt.Println("For MCP clients, configure 'certledger mcp' as a stdio server.")

	return nil
}

// promptOwner asks until it reads a valid non-zero address.
func promptOwner(r *bufio.Reader, w io.Writer) (domain.Address, error) {
	for {
		fmt.Fprint(w, "Registry owner address (0x...): ")
		line, err := r.ReadString('\n')
		line = strings.TrimSpace(line)
		if line != "" {
			addr, perr := domain.ParseAddress(line)
			switch {
			case perr != nil:
				fmt.Fprintln(w, color.YellowString("  ⚠ not a valid address"))
			case addr.IsZero():
				fmt.Fprintln(w, color.YellowString("  ⚠ the zero address cannot own the registry"))
			default:
				return addr, nil
			}
		}
		if err != nil {
			return "", fmt.Errorf("read owner address: %w", err)
		}
	}
}
