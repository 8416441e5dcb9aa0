// Package config holds the scanner configuration. It is loaded once at
// startup and treated as read-only by every pipeline component.
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

type Config struct {
	// CheckTextAttachments also runs text normalization on attachment
	// parts with a text subtype.
	CheckTextAttachments bool `json:"check_text_attachments"`
	// AllowRawInput falls back to a single synthesized part when mime
	// parsing fails. With it off, such input is rejected.
	AllowRawInput bool `json:"allow_raw_input"`
	// IgnoreReceived skips adopting sender details from the Received
	// chain.
	IgnoreReceived bool `json:"ignore_received"`
	// LocalClient marks input handed over by a trusted local client.
	LocalClient bool `json:"local_client"`

	LogLevel string `json:"log_level,omitempty"`
	LogFile  string `json:"log_file,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		AllowRawInput: true,
		LogLevel:      "info",
		LogFile:       "stderr",
	}
}

// Load reads the JSON configuration at path on top of the defaults.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read config file: %s", err)
	}
	c := Default()
	if err := json.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("could not parse config file: %s", err)
	}
	return c, nil
}
