package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Config represents the main application configuration structure
// containing all configuration sections
type Config struct {
	Server  ServerConfig  `toml:"server"`  // HTTP server settings
	Logging LoggingConfig `toml:"logging"` // Application logging settings
	Upload  UploadConfig  `toml:"upload"`  // Upload handling settings
	Whisper WhisperConfig `toml:"whisper"` // Recognition model settings
	Storage StorageConfig `toml:"storage"` // Settings/metrics persistence
}

// ServerConfig contains HTTP server configuration settings
type ServerConfig struct {
	Port               int      `toml:"port"`                  // Primary HTTP port for the server
	Host               string   `toml:"host"`                  // Host address to bind to (e.g., 127.0.0.1 for localhost only, 0.0.0.0 for all interfaces)
	CORSAllowedOrigins []string `toml:"cors_allowed_origins"`  // List of origins allowed for CORS requests (use ["*"] for all origins)
	ReadTimeoutSecs    int      `toml:"read_timeout_seconds"`  // Maximum duration for reading the entire request (0 = no timeout)
	WriteTimeoutSecs   int      `toml:"write_timeout_seconds"` // Maximum duration for writing the response (0 = no timeout, recommended for long transcriptions)
	IdleTimeoutSecs    int      `toml:"idle_timeout_seconds"`  // Maximum duration to wait for the next request when keep-alives are enabled
	AdditionalPorts    []int    `toml:"additional_ports"`      // Additional HTTP ports to listen on (useful for multiple interfaces)
	StaticFilesDir     string   `toml:"static_files_dir"`      // Directory to serve the web client from (e.g., "www")
}

// LoggingConfig contains application logging configuration
type LoggingConfig struct {
	Level  string `toml:"level"`  // Log level: "debug", "info", "warn", or "error"
	Format string `toml:"format"` // Log format: "json" (structured) or "console" (human-readable)
}

// UploadConfig contains upload handling configuration
type UploadConfig struct {
	MaxFileSizeMB int    `toml:"max_file_size_mb"` // Maximum accepted upload size in megabytes (default: 200)
	TempDir       string `toml:"temp_dir"`         // Base directory for per-request audio artifacts (default: system temp)
	FFprobePath   string `toml:"ffprobe_path"`     // Path to the ffprobe executable used for container validation
}

// WhisperConfig contains recognition model configuration
type WhisperConfig struct {
	PythonPath            string `toml:"python_path"`                // Python interpreter running the recognition worker (default: python3)
	Device                string `toml:"device"`                     // Compute device: "auto", "cuda", or "cpu"
	ComputeType           string `toml:"compute_type"`               // faster-whisper compute type (e.g. "auto", "float16", "int8")
	DownloadRoot          string `toml:"download_root"`              // Directory caching downloaded model weights (empty = library default)
	DefaultModel          string `toml:"default_model"`              // Model used when no request or saved preference names one
	MaxBeamSize           int    `toml:"max_beam_size"`              // Upper bound for the beam_size request parameter (default: 10)
	TranscribeTimeoutSecs int    `toml:"transcribe_timeout_seconds"` // Wall-clock budget per transcription in seconds (0 = unlimited)
	LoadTimeoutSecs       int    `toml:"load_timeout_seconds"`       // Budget for loading a model, including weight download (default: 300)
	IdleUnloadMinutes     int    `toml:"idle_unload_minutes"`        // Unload the model after this many idle minutes (0 = never)
}

// StorageConfig contains settings/metrics persistence configuration
type StorageConfig struct {
	SQLitePath string `toml:"sqlite_path"` // Path to the SQLite database file
}

// Load loads the configuration from the specified file path
func Load(path string) (*Config, error) {
	var config Config

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	if _, err := toml.DecodeFile(path, &config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	return &config, nil
}

// LoadWithFallback loads the configuration by checking multiple locations in order of preference
func LoadWithFallback(preferredPath string) (*Config, error) {
	searchPaths := []string{
		preferredPath,         // User-specified path (if provided)
		"configs/config.toml", // configs/ folder
		"config.toml",         // Root directory
	}

	// Remove duplicates while preserving order
	uniquePaths := make([]string, 0, len(searchPaths))
	seen := make(map[string]bool)
	for _, path := range searchPaths {
		if path != "" && !seen[path] {
			uniquePaths = append(uniquePaths, path)
			seen[path] = true
		}
	}

	var lastErr error
	for _, path := range uniquePaths {
		if _, err := os.Stat(path); err == nil {
			config, err := Load(path)
			if err != nil {
				lastErr = fmt.Errorf("failed to load config from %s: %w", path, err)
				continue
			}
			return config, nil
		}
		lastErr = fmt.Errorf("config file not found: %s", path)
	}

	return nil, fmt.Errorf("config file not found in any of the expected locations: %v. Last error: %w", uniquePaths, lastErr)
}

// Validate validates the configuration and applies defaults
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	portsSeen := map[int]bool{c.Server.Port: true}
	for _, p := range c.Server.AdditionalPorts {
		if p <= 0 || p > 65535 {
			return fmt.Errorf("invalid additional server port: %d", p)
		}
		if portsSeen[p] {
			return fmt.Errorf("duplicate port configured: %d (primary or additional)", p)
		}
		portsSeen[p] = true
	}

	if c.Server.StaticFilesDir == "" {
		c.Server.StaticFilesDir = "www"
	}
	if _, err := os.Stat(c.Server.StaticFilesDir); os.IsNotExist(err) {
		return fmt.Errorf("static files directory does not exist: %s", c.Server.StaticFilesDir)
	}

	// Upload defaults
	if c.Upload.MaxFileSizeMB <= 0 {
		c.Upload.MaxFileSizeMB = 200
	}

	// Whisper defaults
	if c.Whisper.PythonPath == "" {
		c.Whisper.PythonPath = "python3"
	}
	switch c.Whisper.Device {
	case "", "auto":
		c.Whisper.Device = "auto"
	case "cuda", "cpu":
	default:
		return fmt.Errorf("invalid whisper device: %s (must be 'auto', 'cuda', or 'cpu')", c.Whisper.Device)
	}
	if c.Whisper.ComputeType == "" {
		c.Whisper.ComputeType = "auto"
	}
	if c.Whisper.DefaultModel == "" {
		c.Whisper.DefaultModel = "base"
	}
	if c.Whisper.MaxBeamSize <= 0 {
		c.Whisper.MaxBeamSize = 10
	}
	if c.Whisper.TranscribeTimeoutSecs < 0 {
		return fmt.Errorf("invalid transcribe_timeout_seconds: %d (must be >= 0)", c.Whisper.TranscribeTimeoutSecs)
	}
	if c.Whisper.LoadTimeoutSecs <= 0 {
		c.Whisper.LoadTimeoutSecs = 300
	}
	if c.Whisper.IdleUnloadMinutes < 0 {
		return fmt.Errorf("invalid idle_unload_minutes: %d (must be >= 0)", c.Whisper.IdleUnloadMinutes)
	}

	// Storage defaults
	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = "whisper-service.db"
	}

	return nil
}
