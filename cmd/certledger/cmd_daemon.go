package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/felixgeelhaar/certledger/internal/config"
)

// cmdStart starts the daemon in the background
func cmdStart() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if isRunning(cfg) {
		fmt.Println(color.GreenString("✓"), "Daemon is already running")
		return nil
	}
	if cfg.Auth.Secret == "" {
		return fmt.Errorf("no auth secret configured (run 'certledger init' first)")
	}

	dir, err := config.EnsureDir()
	if err != nil {
		return fmt.Errorf("setup certledger directory: %w", err)
	}

	daemonPath, err := findDaemonBinary()
	if err != nil {
		return fmt.Errorf("find daemon binary: %w", err)
	}

	cmd := exec.Command(daemonPath)
	cmd.Dir = dir
	cmd.Stdout = nil
	cmd.Stderr = nil
	detachProcess(cmd)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}

	fmt.Print("Starting daemon...")
	for i := 0; i < 30; i++ {
		time.Sleep(100 * time.Millisecond)
		if isRunning(cfg) {
			fmt.Println(color.GreenString(" ✓"))
			fmt.Printf("Daemon running at %s\n", cfg.DaemonURL())
			return nil
		}
		fmt.Print(".")
	}

	fmt.Println(color.RedString(" ✗"))
	return fmt.Errorf("daemon failed to start (check logs with 'certledger logs')")
}

// cmdStop signals the daemon through its PID file
func cmdStop() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if !isRunning(cfg) {
		fmt.Println("Daemon is not running")
		return nil
	}

	dir, err := config.Dir()
	if err != nil {
		return err
	}

	pid, err := readPID(filepath.Join(dir, pidFile))
	if err != nil {
		return err
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("find process: %w", err)
	}

	fmt.Print("Stopping daemon...")
	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("send signal: %w", err)
	}

	for i := 0; i < 50; i++ {
		time.Sleep(100 * time.Millisecond)
		if !isRunning(cfg) {
			fmt.Println(color.GreenString(" ✓"))
			return nil
		}
		fmt.Print(".")
	}

	fmt.Println(color.RedString(" ✗"))
	return fmt.Errorf("daemon did not stop gracefully")
}

// readPID parses the PID file written by certledgerd.
func readPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read PID file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parse PID: %w", err)
	}
	return pid, nil
}

// cmdStatus shows daemon status
func cmdStatus() error {
	c, cfg, err := newClient("")
	if err != nil {
		return err
	}
	if !isRunning(cfg) {
		fmt.Println("Status:   ", color.YellowString("stopped"))
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	st, err := c.Status(ctx)
	if err != nil {
		return fmt.Errorf("get status: %w", err)
	}

	events := "disabled"
	if st.EventsEnabled {
		events = "rabbitmq"
	}

	fmt.Println("Status:   ", color.GreenString("running"))
	fmt.Printf("Address:   %s\n", cfg.DaemonURL())
	fmt.Printf("Registry:  %s (%s)\n", st.Name, st.Symbol)
	fmt.Printf("Owner:     %s\n", st.Owner)
	fmt.Printf("Issued:    %d\n", st.TotalIssued)
	fmt.Printf("Storage:   %s\n", st.Storage)
	fmt.Printf("Events:    %s\n", events)

	return nil
}

// cmdLogs shows the tail of the daemon log
func cmdLogs() error {
	dir, err := config.Dir()
	if err != nil {
		return err
	}

	logPath := filepath.Join(dir, "logs", "certledgerd.log")

	if _, err := os.Stat(logPath); os.IsNotExist(err) {
		fmt.Println("No log file found. Start the daemon first.")
		return nil
	}

	file, err := os.Open(logPath)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	// Seek to end and go back ~4KB for recent logs
	info, err := file.Stat()
	if err != nil {
		return err
	}
	offset := info.Size() - 4096
	if offset < 0 {
		offset = 0
	}
	if _, err := file.Seek(offset, 0); err != nil {
		return err
	}

	reader := bufio.NewReader(file)
	if offset > 0 {
		// Skip partial first line
		_, _ = reader.ReadString('\n')
	}

	scanner := bufio.NewScanner(reader)
	for scanner.Scan() {
		fmt.Println(scanner.Text())
	}

	return scanner.Err()
}

// isRunning checks if the daemon answers its health endpoint
func isRunning(cfg *config.LocalConfig) bool {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	c, _, err := newClientFor(cfg, "")
	if err != nil {
		return false
	}
	return c.Health(ctx) == nil
}

// findDaemonBinary locates the certledgerd binary
func findDaemonBinary() (string, error) {
	if path, err := exec.LookPath("certledgerd"); err == nil {
		return path, nil
	}

	// Check relative to this binary
	self, err := os.Executable()
	if err == nil {
		path := filepath.Join(filepath.Dir(self), "certledgerd")
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	locations := []string{
		"/usr/local/bin/certledgerd",
		"./certledgerd",
		"./cmd/certledgerd/certledgerd",
	}

	for _, path := range locations {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("certledgerd binary not found (build with 'go build ./cmd/certledgerd')")
}
