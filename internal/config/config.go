package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for syncservice.
type Config struct {
	InstanceID    string              `toml:"instance_id"`
	BaseDir       string              `toml:"base_dir"`
	LogDir        string              `toml:"log_dir"`
	LogLevel      string              `toml:"log_level"`
	Server        ServerConfig        `toml:"server"`
	Storage       StorageConfig       `toml:"storage"`
	Notifications NotificationsConfig `toml:"notifications"`
	Archive       ArchiveConfig       `toml:"archive"`
	Encryption    EncryptionConfig    `toml:"encryption"`
}

// ServerConfig holds the listener addresses and the handler pool size.
type ServerConfig struct {
	RPCAddr  string `toml:"rpc_addr"` // object RPC over websocket
	APIAddr  string `toml:"api_addr"` // string-argument web API
	PoolSize int    `toml:"pool_size"`
}

// StorageConfig represents configuration for the metadata store.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type StorageConfig struct {
	Type    string `toml:"type"`               // "sqlite", "mysql" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
	DSN     string `toml:"dsn,omitempty"`      // only used for type=mysql

	// ConnectTimeout bounds the startup connection retry, e.g. "30s".
	ConnectTimeout string `toml:"connect_timeout,omitempty"`
}

// NotificationsConfig selects how commit results reach subscribers.
type NotificationsConfig struct {
	Mode      string `toml:"mode"`       // "sync" (default) or "async"
	QueueSize int    `toml:"queue_size"` // only used for mode=async
}

// ArchiveConfig represents configuration for the snapshot archive.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type ArchiveConfig struct {
	Type string `toml:"type"` // "memory", "filesystem", "s3" or "minio"
	Name string `toml:"name"`

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSRoot string `toml:"fs_root,omitempty"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket   string `toml:"s3_bucket,omitempty"`
	S3Prefix   string `toml:"s3_prefix,omitempty"`
	S3Region   string `toml:"s3_region,omitempty"`
	S3Endpoint string `toml:"s3_endpoint,omitempty"`

	// Static credentials; when empty the default AWS credential chain is used.
	S3AccessKey string `toml:"s3_access_key,omitempty"`
	S3SecretKey string `toml:"s3_secret_key,omitempty"`

	// MinIO-specific fields (only used when Type == "minio")
	MinioEndpoint  string `toml:"minio_endpoint,omitempty"`
	MinioBucket    string `toml:"minio_bucket,omitempty"`
	MinioAccessKey string `toml:"minio_access_key,omitempty"`
	MinioSecretKey string `toml:"minio_secret_key,omitempty"`
	MinioUseSSL    bool   `toml:"minio_use_ssl,omitempty"`
}

// EncryptionConfig holds paths to the age key pair used for snapshot encryption.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "age" (default) or "plain"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// NewConfig creates a new Config with the provided values and defaults
// for everything derived from baseDir.
func NewConfig(instanceID, baseDir string) *Config {
	return &Config{
		InstanceID: instanceID,
		BaseDir:    baseDir,
		LogDir:     filepath.Join(baseDir, "log"),
		LogLevel:   "info",
		Server: ServerConfig{
			RPCAddr:  "127.0.0.1:8081",
			APIAddr:  "127.0.0.1:8080",
			PoolSize: 4,
		},
		Storage: StorageConfig{
			Type:           "sqlite",
			DataDir:        filepath.Join(baseDir, "db"),
			ConnectTimeout: "30s",
		},
		Notifications: NotificationsConfig{
			Mode:      "sync",
			QueueSize: 1024,
		},
		Archive: ArchiveConfig{
			Type:   "filesystem",
			Name:   "local",
			FSRoot: filepath.Join(baseDir, "snapshots"),
		},
		Encryption: EncryptionConfig{
			PublicKeyPath:  filepath.Join(baseDir, "keys", "syncservice.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "syncservice.key"),
		},
	}
}

// Validate checks the settings that cannot be defaulted later.
func (c *Config) Validate() error {
	if c.Server.PoolSize < 1 {
		return fmt.Errorf("server.pool_size must be at least 1, got %d", c.Server.PoolSize)
	}
	switch c.Notifications.Mode {
	case "", "sync":
	case "async":
		if c.Notifications.QueueSize < 1 {
			return fmt.Errorf("notifications.queue_size must be positive for async mode")
		}
	default:
		return fmt.Errorf("unknown notifications mode: %s", c.Notifications.Mode)
	}
	return nil
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// The file may hold storage and archive credentials.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
