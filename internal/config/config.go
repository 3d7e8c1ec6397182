package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Pipeline        PipelineConfig                  `toml:"pipeline"`
	Storage         StorageConfig                   `toml:"storage"`
	Mailbox         MailboxConfig                   `toml:"mailbox"`
	Profiles        map[string]ProfileConfig        `toml:"profiles"`
	Destinations    map[string]DestinationConfig    `toml:"destinations"`
	DestinationSets map[string]DestinationSetConfig `toml:"destination_sets"`
	Sources         map[string]SourceConfig         `toml:"sources"`
}

type PipelineConfig struct {
	Name     string `toml:"name"`
	Interval string `toml:"interval"`
	RunOnce  bool   `toml:"run_once"`
	MaxItems int    `toml:"max_items"`
	Workers  int    `toml:"workers"`
	DataDir  string `toml:"data_dir"`
}

type StorageConfig struct {
	Type string `toml:"type"`
	Path string `toml:"path"`
}

type MailboxConfig struct {
	BaseURL string `toml:"base_url"`
	Token   string `toml:"token"`
	Timeout string `toml:"timeout"`
}

type ProfileConfig struct {
	Provider        string   `toml:"provider"`
	Model           string   `toml:"model"`
	Host            string   `toml:"host"`
	APIKey          string   `toml:"api_key"`
	MaxChars        int      `toml:"max_chars"`
	AnalysisPrompt  string   `toml:"analysis_prompt"`
	StructurePrompt string   `toml:"structure_prompt"`
	FocusAreas      []string `toml:"focus_areas"`
}

type DestinationConfig struct {
	Type    string                     `toml:"type"`
	Notion  NotionDestinationConfig    `toml:"notion"`
	Discord DiscordDestinationConfig   `toml:"discord"`
	Bluesky BlueskyDestinationConfig   `toml:"bluesky"`
	Feed    FeedDestinationConfig      `toml:"feed"`
}

type NotionDestinationConfig struct {
	Token         string `toml:"token"`
	NewslettersDB string `toml:"newsletters_db"`
	StoriesDB     string `toml:"stories_db"`
	BaseURL       string `toml:"base_url"`
}

type DiscordDestinationConfig struct {
	BotToken    string `toml:"bot_token"`
	ChannelID   string `toml:"channel_id"`
	ChannelType string `toml:"channel_type"`
	Sleep       string `toml:"sleep"`
}

type BlueskyDestinationConfig struct {
	Host       string   `toml:"host"`
	Identifier string   `toml:"identifier"`
	Password   string   `toml:"password"`
	Languages  []string `toml:"languages"`
}

type FeedDestinationConfig struct {
	Path  string `toml:"path"`
	Title string `toml:"title"`
	Link  string `toml:"link"`
	Size  int    `toml:"size"`
}

type DestinationSetConfig struct {
	Destinations []string `toml:"destinations"`
}

type SourceConfig struct {
	Type           string `toml:"type"`
	Name           string `toml:"name"`
	Address        string `toml:"address"`
	FeedURL        string `toml:"feed_url"`
	Enabled        bool   `toml:"enabled"`
	Profile        string `toml:"profile"`
	DestinationSet string `toml:"destination_set"`
	MaxItems       int    `toml:"max_items"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

func validateConfig(config *Config) error {
	if config.Pipeline.Name == "" {
		config.Pipeline.Name = "gazeta"
	}

	if config.Pipeline.Interval == "" {
		config.Pipeline.Interval = "30m"
	}

	if _, err := time.ParseDuration(config.Pipeline.Interval); err != nil {
		return fmt.Errorf("invalid interval: %w", err)
	}

	if config.Pipeline.MaxItems <= 0 {
		config.Pipeline.MaxItems = 10
	}

	if config.Pipeline.Workers <= 0 {
		config.Pipeline.Workers = 2
	}

	if config.Pipeline.DataDir == "" {
		config.Pipeline.DataDir = "data"
	}

	if config.Storage.Type == "" {
		config.Storage.Type = "sqlite"
	}

	if config.Storage.Path == "" {
		config.Storage.Path = "./gazeta.db"
	}

	if config.Mailbox.Timeout == "" {
		config.Mailbox.Timeout = "30s"
	}

	if _, err := time.ParseDuration(config.Mailbox.Timeout); err != nil {
		return fmt.Errorf("invalid mailbox timeout: %w", err)
	}

	enabledSources := 0
	for name, src := range config.Sources {
		if !src.Enabled {
			continue
		}
		enabledSources++

		switch src.Type {
		case "", "mailbox":
			if src.Address == "" {
				return fmt.Errorf("source %s: address is required", name)
			}
		case "rss":
			if src.FeedURL == "" && src.Address == "" {
				return fmt.Errorf("source %s: feed_url is required", name)
			}
		default:
			return fmt.Errorf("source %s: unsupported type %s", name, src.Type)
		}
	}
	if enabledSources == 0 {
		return fmt.Errorf("at least one source must be enabled")
	}

	for name, dst := range config.Destinations {
		switch dst.Type {
		case "notion", "discord", "bluesky", "feed":
		default:
			return fmt.Errorf("destination %s: unsupported type %s", name, dst.Type)
		}
	}

	for name, set := range config.DestinationSets {
		if len(set.Destinations) == 0 {
			return fmt.Errorf("destination set %s: no destinations listed", name)
		}
		for _, dst := range set.Destinations {
			if _, ok := config.Destinations[dst]; !ok {
				return fmt.Errorf("destination set %s: unknown destination %s", name, dst)
			}
		}
	}

	return nil
}

// Interval returns the parsed pipeline interval. Validation guarantees
// it parses.
func (c *Config) Interval() time.Duration {
	d, _ := time.ParseDuration(c.Pipeline.Interval)
	return d
}

// MailboxTimeout returns the parsed mailbox HTTP timeout.
func (c *Config) MailboxTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Mailbox.Timeout)
	return d
}
