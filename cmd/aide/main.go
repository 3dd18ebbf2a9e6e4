// aide is an interactive coding assistant session in the terminal.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"aide/internal/session"
	"aide/pkg/config"
	"aide/pkg/logx"
	"aide/pkg/tools"
	"aide/pkg/version"
)

const shutdownTimeout = 15 * time.Second

func main() {
	var (
		configPath  string
		workDir     string
		secretsDir  string
		initSecrets bool
		showVersion bool
	)
	flag.StringVar(&configPath, "config", "", "path to YAML config (empty uses defaults + env)")
	flag.StringVar(&workDir, "workdir", ".", "working directory for tool execution")
	flag.StringVar(&secretsDir, "secrets-dir", ".aide", "directory holding secrets.json.enc")
	flag.BoolVar(&initSecrets, "init-secrets", false, "interactively create the encrypted secrets file and exit")
	flag.BoolVar(&showVersion, "version", false, "print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("aide %s (commit %s, built %s)\n", version.Version, version.Commit, version.Date)
		return
	}

	logger := logx.NewLogger("aide")

	if initSecrets {
		if err := runInitSecrets(secretsDir); err != nil {
			logger.Error("secrets setup failed: %v", err)
			os.Exit(1)
		}
		return
	}

	if err := run(configPath, workDir, secretsDir, logger); err != nil {
		logger.Error("%v", err)
		os.Exit(1)
	}
}

func run(configPath, workDir, secretsDir string, logger *logx.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := loadSecrets(secretsDir); err != nil {
		return err
	}

	tools.RegisterBuiltins()

	s, err := session.New(session.Options{
		Config:  cfg,
		WorkDir: workDir,
	})
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		shutCtx, shutCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutCancel()
		_ = s.Shutdown(shutCtx)
		return fmt.Errorf("start session: %w", err)
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-signals:
		logger.Info("received %s, shutting down", sig)
	case <-s.Done():
	}
	signal.Stop(signals)

	shutCtx, shutCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutCancel()
	return s.Shutdown(shutCtx)
}

// loadSecrets decrypts the secrets file when present. Sessions without
// one fall back to environment variables for API keys.
func loadSecrets(secretsDir string) error {
	if !config.SecretsFileExists(secretsDir) {
		return nil
	}

	password := os.Getenv("AIDE_PASSWORD")
	if password == "" {
		fmt.Print("Password for secrets file: ")
		raw, err := term.ReadPassword(syscall.Stdin)
		fmt.Println()
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}
		password = string(raw)
	}

	secrets, err := config.DecryptSecretsFile(secretsDir, password)
	if err != nil {
		return fmt.Errorf("decrypt secrets: %w", err)
	}
	config.SetDecryptedSecrets(secrets)
	return nil
}

// runInitSecrets gathers API keys and writes the encrypted secrets file.
func runInitSecrets(secretsDir string) error {
	password, err := promptForPassword()
	if err != nil {
		return err
	}

	secrets := make(map[string]string)
	scanner := bufio.NewScanner(os.Stdin)
	for _, name := range []string{"ANTHROPIC_API_KEY", "OPENAI_API_KEY", "GEMINI_API_KEY"} {
		fmt.Printf("Enter %s (press Enter to skip): ", name)
		if !scanner.Scan() {
			break
		}
		if value := strings.TrimSpace(scanner.Text()); value != "" {
			secrets[name] = value
		}
	}
	if len(secrets) == 0 {
		return fmt.Errorf("no secrets entered, nothing to save")
	}

	if err := config.EncryptSecretsFile(secretsDir, password, secrets); err != nil {
		return fmt.Errorf("encrypt secrets: %w", err)
	}
	fmt.Printf("Credentials saved to %s/secrets.json.enc (mode 0600).\n", secretsDir)
	fmt.Println("Set AIDE_PASSWORD to skip the password prompt at startup.")
	return nil
}

func promptForPassword() (string, error) {
	const maxAttempts = 3
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		fmt.Print("Choose a password for the secrets file: ")
		first, err := term.ReadPassword(syscall.Stdin)
		fmt.Println()
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}

		fmt.Print("Confirm password: ")
		second, err := term.ReadPassword(syscall.Stdin)
		fmt.Println()
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}

		match := string(first) == string(second)
		for i := range first {
			first[i] = 0
		}
		password := string(second)
		for i := range second {
			second[i] = 0
		}
		if match {
			if password == "" {
				return "", fmt.Errorf("empty password")
			}
			return password, nil
		}
		if attempt < maxAttempts {
			fmt.Println("Passwords do not match, try again.")
		}
	}
	return "", fmt.Errorf("passwords did not match after %d attempts", maxAttempts)
}
