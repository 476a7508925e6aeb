// ABOUTME: Entry point for the solipcord chat server
// ABOUTME: Subcommands serve, init, health, and status over the gateway's HTTP API

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"github.com/2389/solipcord/internal/config"
	"github.com/2389/solipcord/internal/gateway"
	"github.com/2389/solipcord/internal/responder"
)

// Version is set at build time.
var version = "dev"

const banner = `
           _ _                       _
 ___  ___ | (_)_ __   ___ ___  _ __ __| |
/ __|/ _ \| | | '_ \ / __/ _ \| '__/ _' |
\__ \ (_) | | | |_) | (_| (_) | | | (_| |
|___/\___/|_|_| .__/ \___\___/|_|  \__,_|
              |_|
`

// getConfigPath returns the path to the config file.
// Priority: SOLIPCORD_CONFIG env var > XDG_CONFIG_HOME/solipcord/gateway.yaml > ~/.config/solipcord/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv("SOLIPCORD_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "solipcord", "gateway.yaml")
}

// loadDotEnv loads .env from the working directory when present.
func loadDotEnv() error {
	if _, err := os.Stat(".env"); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(); err != nil {
		return fmt.Errorf("loading .env: %w", err)
	}
	return nil
}

func usage() {
	fmt.Println("Usage: solipcord <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve    Start the chat server")
	fmt.Println("  init     Create a new config file interactively")
	fmt.Println("  health   Check server health")
	fmt.Println("  status   Show attached persona responders")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	if err := loadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit(os.Stdin, os.Stdout)
	case "health":
		err = runHealth(ctx)
	case "status":
		err = runStatus(ctx, os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s\n", cfg.Database.Path)
	green.Print("    ▶ ")
	fmt.Printf("Backend:   %s", cfg.Generation.Backend)
	if cfg.Generation.Backend == config.BackendOllama {
		gray.Printf(" (%s @ %s)", cfg.Generation.Model, cfg.Generation.OllamaURL)
	}
	fmt.Println()

	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	} else {
		green.Print("    ▶ ")
		fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
		if !strings.HasPrefix(cfg.Server.HTTPAddr, "127.0.0.1") && !strings.HasPrefix(cfg.Server.HTTPAddr, "localhost") {
			yellow.Println("    ! listening beyond loopback with no authentication")
		}
	}

	fmt.Println()

	logger.Info("starting solipcord",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"backend", cfg.Generation.Backend,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

// get issues a GET against the configured server.
func get(ctx context.Context, path string) (*http.Response, error) {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s%s", cfg.Server.HTTPAddr, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	return http.DefaultClient.Do(req)
}

func runHealth(ctx context.Context) error {
	resp, err := get(ctx, "/health")
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}

func runStatus(ctx context.Context, out io.Writer) error {
	resp, err := get(ctx, "/api/responders")
	if err != nil {
		return fmt.Errorf("status check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status check failed: status %d", resp.StatusCode)
	}

	var status responder.Status
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	printStatus(out, status)
	return nil
}

func printStatus(out io.Writer, st responder.Status) {
	state := color.YellowString("stopped")
	if st.Running {
		state = color.GreenString("running")
	}
	fmt.Fprintf(out, "responders: %s\n", state)
	fmt.Fprintf(out, "  direct messages: %d\n", st.DMListeners)
	for _, id := range st.DMIDs {
		fmt.Fprintf(out, "    dm:%s\n", id)
	}
	fmt.Fprintf(out, "  group chats:     %d\n", st.GroupListeners)
	for _, id := range st.GroupIDs {
		fmt.Fprintf(out, "    group:%s\n", id)
	}
}

func runInit(in io.Reader, out io.Writer) error {
	reader := bufio.NewReader(in)

	fmt.Fprintln(out, "solipcord configuration setup")
	fmt.Fprintln(out, "=============================")
	fmt.Fprintln(out)

	outputFile := prompt(reader, out, "Config file path", getConfigPath())

	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, out, "File exists. Overwrite?", "no")
		if !isYes(overwrite) {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	defaults := config.Default()

	fmt.Fprintln(out, "\n--- Server Configuration ---")
	httpAddr := prompt(reader, out, "HTTP address", defaults.Server.HTTPAddr)

	fmt.Fprintln(out, "\n--- Database Configuration ---")
	dbPath := prompt(reader, out, "SQLite database path", defaults.Database.Path)

	fmt.Fprintln(out, "\n--- Generation Configuration ---")
	backend := prompt(reader, out, "Backend (ollama/scripted)", defaults.Generation.Backend)
	ollamaURL, model := defaults.Generation.OllamaURL, defaults.Generation.Model
	if backend == config.BackendOllama {
		ollamaURL = prompt(reader, out, "Ollama URL", ollamaURL)
		model = prompt(reader, out, "Model", model)
	}

	content := renderConfig(initAnswers{
		HTTPAddr:  httpAddr,
		DBPath:    dbPath,
		Backend:   backend,
		OllamaURL: ollamaURL,
		Model:     model,
	})

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(outputFile, []byte(content), 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	// Catch typos before the first serve
	if _, err := config.Load(outputFile); err != nil {
		return fmt.Errorf("generated config is invalid: %w", err)
	}

	fmt.Fprintf(out, "\nConfig written to %s\n", outputFile)
	fmt.Fprintln(out, "\nTo start the server:")
	fmt.Fprintln(out, "  solipcord serve")
	return nil
}

type initAnswers struct {
	HTTPAddr  string
	DBPath    string
	Backend   string
	OllamaURL string
	Model     string
}

// renderConfig fills the answers into the default YAML.
func renderConfig(a initAnswers) string {
	r := strings.NewReplacer(
		`http_addr: "127.0.0.1:8080"`, fmt.Sprintf("http_addr: %q", a.HTTPAddr),
		`path: "${HOME}/.local/share/solipcord/solipcord.db"`, fmt.Sprintf("path: %q", a.DBPath),
		`backend: "ollama"`, fmt.Sprintf("backend: %q", a.Backend),
		`ollama_url: "http://127.0.0.1:11434"`, fmt.Sprintf("ollama_url: %q", a.OllamaURL),
		`model: "llama3.2"`, fmt.Sprintf("model: %q", a.Model),
	)
	return r.Replace(config.DefaultYAML)
}

func isYes(s string) bool {
	s = strings.ToLower(s)
	return s == "yes" || s == "y"
}

func prompt(reader *bufio.Reader, out io.Writer, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(out, "%s [%s]: ", question, defaultVal)
	} else {
		fmt.Fprintf(out, "%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Fprintln(out)
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
