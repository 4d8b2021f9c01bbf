package conf

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// RelayConfig configures the signaling relay server. Values are read from a
// TOML file and may be overridden by environment variables.
type RelayConfig struct {
	ListenAddr     string   `toml:"listen_addr"`
	BackendBaseURL string   `toml:"backend_base_url"`
	AllowedOrigins []string `toml:"allowed_origins"`

	JwtKeyEnv string `toml:"jwt_key_env"` // name of the env var holding the signing key

	S3Region string `toml:"s3_region"`
	S3Bucket string `toml:"s3_bucket"` // empty disables the activity archive
}

func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		ListenAddr:     ":8080",
		BackendBaseURL: "http://localhost:3000",
		AllowedOrigins: []string{"http://localhost:3000"},
		JwtKeyEnv:      "JWT_KEY",
	}
}

// LoadRelayConfig reads the TOML file at path if it exists, then applies
// environment variable overrides. A missing file is not an error.
func LoadRelayConfig(path string) (RelayConfig, error) {
	cfg := DefaultRelayConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return cfg, fmt.Errorf("failed to read relay config: %w", err)
		}
		if err == nil {
			if err := toml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("failed to parse relay config: %w", err)
			}
		}
	}

	if v := os.Getenv("RELAY_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("BACKEND_BASE_URL"); v != "" {
		cfg.BackendBaseURL = v
	}
	if v := os.Getenv("S3_REGION"); v != "" {
		cfg.S3Region = v
	}
	if v := os.Getenv("S3_BUCKET"); v != "" {
		cfg.S3Bucket = v
	}

	return cfg, nil
}

// JwtKey resolves the JWT signing key from the configured env var.
func (c RelayConfig) JwtKey() ([]byte, error) {
	name := c.JwtKeyEnv
	if name == "" {
		name = "JWT_KEY"
	}
	key := os.Getenv(name)
	if key == "" {
		return nil, fmt.Errorf("%s is not set", name)
	}
	return []byte(key), nil
}
