package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type serverConfig struct {
	HostName        string `json:"host" toml:"host"`
	Certificate     string `json:"certificate" toml:"certificate"`
	PrivateKey      string `json:"privatekey" toml:"privatekey"`
	Port            int    `json:"port" toml:"port"`
	AcceptAll       bool   `json:"accept_all" toml:"accept_all"` // for debugging
	SendUnsigned    bool   `json:"send_unsigned" toml:"send_unsigned"`
	ReceiveUnsigned bool   `json:"receive_unsigned" toml:"receive_unsigned"`
	MaxFollowers    int    `json:"max_followers" toml:"max_followers"`
	Database        string `json:"database" toml:"database"`
	DatabaseDriver  string `json:"db_driver" toml:"db_driver"` // sqlite or sqlite3
	DeliveryWorkers int    `json:"delivery_workers" toml:"delivery_workers"`
	RequestTimeout  string `json:"request_timeout" toml:"request_timeout"`
	CacheSize       int64  `json:"cache_size" toml:"cache_size"`
}

func (s serverConfig) useTLS() bool {
	return s.Certificate != "" && s.PrivateKey != ""
}

// timeout is the bound on every outgoing request, 10 seconds unless configured.
func (s serverConfig) timeout() time.Duration {
	if s.RequestTimeout == "" {
		return 10 * time.Second
	}
	d, err := time.ParseDuration(s.RequestTimeout)
	if err != nil || d <= 0 {
		return 10 * time.Second
	}
	return d
}

func (s serverConfig) database() string {
	if s.Database == "" {
		return "activitycore.db"
	}
	return s.Database
}

type userConfig struct {
	Name          string `json:"name" toml:"name"`
	Type          string `json:"type,omitempty" toml:"type"`
	DisplayName   string `json:"displayName" toml:"displayName"`
	Summary       string `json:"summary,omitempty" toml:"summary"`
	SourceURL     string `json:"outboxSource" toml:"outboxSource"`
	Token         string `json:"token,omitempty" toml:"token"` // bearer token for posting to the outbox
	ManualApprove bool   `json:"manuallyApprovesFollowers,omitempty" toml:"manuallyApprovesFollowers"`
}

type Config struct {
	URL    string       `json:"url" toml:"url"` // public-facing URL
	Server serverConfig `json:"server" toml:"server"`
	Users  []userConfig `json:"users" toml:"users"`
}

func (c Config) PublicHost() string {
	u, err := url.Parse(c.URL)
	if err != nil {
		return ""
	}
	return u.Host
}

// Validate reports configuration that would keep the service from starting.
func (c Config) Validate() error {
	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("parsing url %q: %w", c.URL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("url %q must be absolute", c.URL)
	}
	if c.Server.RequestTimeout != "" {
		if _, err := time.ParseDuration(c.Server.RequestTimeout); err != nil {
			return fmt.Errorf("parsing request_timeout: %w", err)
		}
	}
	seen := make(map[string]bool)
	for _, u := range c.Users {
		if u.Name == "" {
			return errors.New("user without a name")
		}
		if seen[u.Name] {
			return fmt.Errorf("user %s is configured twice", u.Name)
		}
		seen[u.Name] = true
	}
	return nil
}

func ReadConfig(b []byte) (config Config, err error) {
	if uErr := json.Unmarshal(b, &config); uErr != nil {
		return config, uErr
	}
	return config, nil
}

// ReadTOMLConfig parses the TOML form of the configuration.
func ReadTOMLConfig(b []byte) (config Config, err error) {
	if _, tErr := toml.Decode(string(b), &config); tErr != nil {
		return config, tErr
	}
	return config, nil
}

// LoadConfig reads a configuration file, TOML when the extension is .toml and JSON otherwise.
func LoadConfig(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config: %w", err)
	}
	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		cfg, err = ReadTOMLConfig(b)
	} else {
		cfg, err = ReadConfig(b)
	}
	if err != nil {
		return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}
