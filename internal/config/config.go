package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Questions struct {
		TTL string `yaml:"ttl"` // chapter cache lifetime
	} `yaml:"questions"`
	Assessment Assessment `yaml:"assessment"`
}

// Assessment carries the engine tunables. Zero values fall back to the
// app-layer defaults so a minimal config file stays minimal.
type Assessment struct {
	QuestionCount    int    `yaml:"questionCount"`
	SessionTTL       string `yaml:"sessionTtl"`
	CoolDown         string `yaml:"coolDown"`
	MaxDuration      string `yaml:"maxDuration"`
	StreakThresholds []int  `yaml:"streakThresholds"`
	SpeedSeconds     int     `yaml:"speedSeconds"`
	SweepInterval    string  `yaml:"sweepInterval"`
	SigmaMin         float64 `yaml:"sigmaMin"`
	SigmaMax         float64 `yaml:"sigmaMax"`
}

// Load reads YAML config from path.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
