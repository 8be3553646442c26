package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	exeDirCache string
)

// getExecutableDir returns the directory where the executable is located
func getExecutableDir() string {
	if exeDirCache != "" {
		return exeDirCache
	}
	execPath, err := os.Executable()
	if err != nil {
		exeDirCache = "."
		return exeDirCache
	}
	execPath, err = filepath.EvalSymlinks(execPath)
	if err != nil {
		exeDirCache = "."
		return exeDirCache
	}
	exeDirCache = filepath.Dir(execPath)
	return exeDirCache
}

// Config is the full bot configuration. It is loaded once at startup and
// treated as read-only afterwards; components receive it (or slices of it)
// through their constructors.
type Config struct {
	CommandPrefix string         `yaml:"command_prefix,omitempty"`
	Allowlist     []string       `yaml:"allowlist"`
	Commands      CommandConfig  `yaml:"commands,omitempty"`
	AI            AIConfig       `yaml:"ai"`
	Image         ImageConfig    `yaml:"image,omitempty"`
	History       HistoryConfig  `yaml:"history,omitempty"`
	Platforms     PlatformConfig `yaml:"platforms,omitempty"`
}

// CommandConfig holds extra aliases for the two command families. The
// canonical names txtai/picai always work.
type CommandConfig struct {
	TextAliases  []string `yaml:"text_aliases,omitempty"`
	ImageAliases []string `yaml:"image_aliases,omitempty"`
}

// AIConfig holds the provider endpoint and model parameters.
type AIConfig struct {
	BaseURL          string  `yaml:"base_url,omitempty"`
	APIKey           string  `yaml:"api_key,omitempty"`
	Model            string  `yaml:"model,omitempty"`
	Temperature      float64 `yaml:"temperature"`
	MaxTokens        int     `yaml:"max_tokens"`
	TopP             float64 `yaml:"top_p"`
	FrequencyPenalty float64 `yaml:"frequency_penalty"`
	PresencePenalty  float64 `yaml:"presence_penalty"`
	UseChatEndpoint  bool    `yaml:"use_chat_endpoint"`
	Debug            bool    `yaml:"debug"`
	TLSSkipVerify    bool    `yaml:"tls_skip_verify"`
}

// ImageConfig controls image generation requests.
type ImageConfig struct {
	Count int    `yaml:"count"`
	Size  string `yaml:"size"` // "{width}x{height}"
}

type HistoryConfig struct {
	DBPath string `yaml:"db_path,omitempty"`
}

type PlatformConfig struct {
	Matrix   MatrixConfig   `yaml:"matrix,omitempty"`
	Telegram TelegramConfig `yaml:"telegram,omitempty"`
	Discord  DiscordConfig  `yaml:"discord,omitempty"`
}

type MatrixConfig struct {
	HomeserverURL string `yaml:"homeserver_url,omitempty"`
	UserID        string `yaml:"user_id,omitempty"`
	AccessToken   string `yaml:"access_token,omitempty"`
}

type TelegramConfig struct {
	Token string `yaml:"token,omitempty"`
}

type DiscordConfig struct {
	Token string `yaml:"token,omitempty"`
}

func DefaultConfig() *Config {
	return &Config{
		CommandPrefix: "!",
		AI: AIConfig{
			BaseURL:     "https://api.openai.com/v1",
			Model:       "gpt-3.5-turbo",
			Temperature: 0.9,
			MaxTokens:   512,
			TopP:        1.0,
		},
		Image: ImageConfig{
			Count: 1,
			Size:  "1024x1024",
		},
		History: HistoryConfig{
			DBPath: filepath.Join(DataDir(), "history.db"),
		},
	}
}

func DataDir() string {
	exeDir := getExecutableDir()
	return filepath.Join(exeDir, ".aibot")
}

func ConfigPath() string {
	exeDir := getExecutableDir()
	return filepath.Join(exeDir, ".aibot.yaml")
}

// Load reads the config from the default path next to the executable.
func Load() (*Config, error) {
	return LoadFromPath(ConfigPath())
}

// LoadFromPath reads the config from an explicit path. A missing file yields
// the defaults; a present but invalid file is an error.
func LoadFromPath(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if cfg.AI.APIKey == "" {
		cfg.AI.APIKey = os.Getenv("OPENAI_API_KEY")
	}

	return cfg, nil
}

func (c *Config) Save() error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(ConfigPath(), data, 0600)
}

// Validate checks the parts of the config that would otherwise only fail at
// request time. Malformed values are configuration errors, never runtime
// panics.
func (c *Config) Validate() error {
	if c.AI.APIKey == "" {
		return fmt.Errorf("config: ai.api_key is required (or set OPENAI_API_KEY)")
	}
	if c.AI.Model == "" {
		return fmt.Errorf("config: ai.model is required")
	}
	if c.Image.Count < 1 {
		return fmt.Errorf("config: image.count must be at least 1, got %d", c.Image.Count)
	}
	if _, _, err := ParseImageSize(c.Image.Size); err != nil {
		return fmt.Errorf("config: image.size: %w", err)
	}
	if c.CommandPrefix == "" {
		return fmt.Errorf("config: command_prefix must not be empty")
	}
	return nil
}

// ParseImageSize parses a "{width}x{height}" size string.
func ParseImageSize(size string) (width, height int, err error) {
	parts := strings.Split(size, "x")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid size %q, want \"{width}x{height}\"", size)
	}
	width, err = strconv.Atoi(parts[0])
	if err != nil || width <= 0 {
		return 0, 0, fmt.Errorf("invalid width in size %q", size)
	}
	height, err = strconv.Atoi(parts[1])
	if err != nil || height <= 0 {
		return 0, 0, fmt.Errorf("invalid height in size %q", size)
	}
	return width, height, nil
}
