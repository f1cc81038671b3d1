// Package config loads the API service configuration from YAML, with
// environment overrides for the LLM credentials.
package config

import (
	"log"
	"os"

	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type LLMConfig struct {
	APIKey      string  `yaml:"apiKey"`
	BaseURL     string  `yaml:"baseURL"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"maxTokens"`
}

type AgentConfig struct {
	MaxIterations  int      `yaml:"maxIterations"`
	TimeoutMs      int      `yaml:"timeoutMs"`
	ActionDelayMs  int      `yaml:"actionDelayMs"`
	MaxTotalTokens int      `yaml:"maxTotalTokens"`
	Vision         bool     `yaml:"vision"`
	JpegQuality    int      `yaml:"jpegQuality"`
	LogDir         string   `yaml:"logDir"`
	AllowedDomains []string `yaml:"allowedDomains"`
	BlockedDomains []string `yaml:"blockedDomains"`
}

type ScraperConfig struct {
	UserAgent       string `yaml:"userAgent"`
	TimeoutMs       int    `yaml:"timeoutMs"`
	RespectRobots   bool   `yaml:"respectRobots"`
	CacheTTLMinutes int    `yaml:"cacheTTLMinutes"`
}

type RedisConfig struct {
	URL string `yaml:"url"`
}

type PoolConfig struct {
	MaxBrowsers      int `yaml:"maxBrowsers"`
	AcquireTimeoutMs int `yaml:"acquireTimeoutMs"`
}

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	LLM     LLMConfig     `yaml:"llm"`
	Agent   AgentConfig   `yaml:"agent"`
	Scraper ScraperConfig `yaml:"scraper"`
	Redis   RedisConfig   `yaml:"redis"`
	Pool    PoolConfig    `yaml:"pool"`
}

func Load(path string) *Config {
	f, err := os.Open(path)
	if err != nil {
		log.Fatalf("failed to open config file: %v", err)
	}
	defer f.Close()

	var cfg Config
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		log.Fatalf("failed to decode config: %v", err)
	}

	cfg.applyEnv()
	return &cfg
}

// applyEnv overlays the standard environment variables so deployments
// can keep credentials out of the YAML file.
func (c *Config) applyEnv() {
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("LLM_BASE_URL"); v != "" {
		c.LLM.BaseURL = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		c.LLM.Model = v
	}
}
