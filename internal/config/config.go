package config

import (
	"os"
	"path/filepath"
)

// Config holds process-wide settings. Values come from the environment
// (a .env file is loaded by main before this runs) with sane defaults
// rooted under ~/.openagent.
type Config struct {
	Addr         string
	DataDir      string
	DBPath       string
	WorkspaceDir string
	DistroDir    string
	LogFile      string

	// Defaults for missions created on demand.
	Harness     string
	Model       string
	Agent       string
	WorkspaceID string

	// Harness settings.
	OllamaHost   string
	GeminiAPIKey string
	OpenCodeBin  string
	ClaudeBin    string
}

func New() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	dataDir := getEnv("OPENAGENT_DATA_DIR", filepath.Join(homeDir, ".openagent"))

	c := &Config{
		Addr:         getEnv("OPENAGENT_ADDR", ":8321"),
		DataDir:      dataDir,
		DBPath:       getEnv("OPENAGENT_DB_PATH", filepath.Join(dataDir, "openagent.db")),
		WorkspaceDir: getEnv("OPENAGENT_WORKSPACE_DIR", filepath.Join(dataDir, "workspaces")),
		DistroDir:    getEnv("OPENAGENT_DISTRO_DIR", filepath.Join(dataDir, "distros")),
		LogFile:      getEnv("OPENAGENT_LOG_FILE", filepath.Join(dataDir, "openagent.log")),
		Harness:      getEnv("OPENAGENT_HARNESS", "opencode"),
		Model:        os.Getenv("OPENAGENT_MODEL"),
		Agent:        os.Getenv("OPENAGENT_AGENT"),
		WorkspaceID:  os.Getenv("OPENAGENT_WORKSPACE"),
		OllamaHost:   getEnv("OLLAMA_HOST", "http://localhost:11434"),
		GeminiAPIKey: os.Getenv("GEMINI_API_KEY"),
		OpenCodeBin:  getEnv("OPENAGENT_OPENCODE_BIN", "opencode"),
		ClaudeBin:    getEnv("OPENAGENT_CLAUDE_BIN", "claude"),
	}

	return c, nil
}

func (c *Config) EnsureDataDir() error {
	if err := os.MkdirAll(c.DataDir, 0755); err != nil {
		return err
	}
	if err := os.MkdirAll(c.WorkspaceDir, 0755); err != nil {
		return err
	}
	return os.MkdirAll(c.DistroDir, 0755)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
