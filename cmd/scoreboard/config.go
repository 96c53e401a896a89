package main

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Authority struct {
		BaseURL   string `yaml:"base_url"`
		StreamURL string `yaml:"stream_url"`
	} `yaml:"authority"`

	Public struct {
		StreamURL       string `yaml:"stream_url"`
		SnapshotURL     string `yaml:"snapshot_url"`
		PollIntervalSec int    `yaml:"poll_interval_sec"`
	} `yaml:"public"`

	NATS struct {
		URL string `yaml:"url"`
	} `yaml:"nats"`

	SurfaceID string `yaml:"surface_id"`

	Dispatch struct {
		RecoverOnConflict []string `yaml:"recover_on_conflict"`
	} `yaml:"dispatch"`
}

func loadConfig(path string) (*Config, error) {
	var config Config

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	case os.IsNotExist(err):
		// Env vars and defaults cover everything; the file is optional.
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config.Authority.BaseURL = getEnv("AUTHORITY_BASE_URL", defaultStr(config.Authority.BaseURL, "http://localhost:8080"))
	config.Authority.StreamURL = getEnv("AUTHORITY_STREAM_URL", defaultStr(config.Authority.StreamURL, "ws://localhost:8080/api/stream"))
	config.Public.StreamURL = getEnv("PUBLIC_STREAM_URL", config.Public.StreamURL)
	config.Public.SnapshotURL = getEnv("PUBLIC_SNAPSHOT_URL", config.Public.SnapshotURL)
	config.Public.PollIntervalSec = getEnvAsInt("PUBLIC_POLL_INTERVAL_SEC", defaultInt(config.Public.PollIntervalSec, 5))
	config.NATS.URL = getEnv("NATS_URL", config.NATS.URL)
	config.SurfaceID = getEnv("SURFACE_ID", defaultStr(config.SurfaceID, "operator"))

	return &config, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func defaultStr(value, fallback string) string {
	if value != "" {
		return value
	}
	return fallback
}

func defaultInt(value, fallback int) int {
	if value != 0 {
		return value
	}
	return fallback
}
