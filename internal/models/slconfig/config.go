package slconfig

import (
	"fmt"
	"log/syslog"
	"os"

	"github.com/goccy/go-yaml"
)

type Config struct {
	TrustedProxies  []string        `yaml:"trustedproxies"`
	TrustedPlatform string          `yaml:"trustedplatform"`
	Database        DatabaseConfig  `yaml:"database"`
	StaticPath      string          `yaml:"staticpath"`
	BaseURL         string          `yaml:"baseurl"`
	Production      bool            `yaml:"production"`
	Listen          ListenConfig    `yaml:"listen"`
	Logger          LoggerConfig    `yaml:"logger"`
	Geo             GeoConfig       `yaml:"geo"`
	Analytics       AnalyticsConfig `yaml:"analytics"`
}

type DatabaseConfig struct {
	Redis RedisConfig `yaml:"redis"`
	Db    string      `yaml:"db"`
	Path  string      `yaml:"path"`
	Dsn   string      `yaml:"dsn"`
}

type RedisConfig struct {
	Addr string `yaml:"addr"`
	Db   int    `yaml:"db"`
}

type ListenConfig struct {
	Website string `yaml:"website"`
}

type LoggerConfig struct {
	Level  string             `yaml:"level"`
	File   LoggerFileConfig   `yaml:"file"`
	Syslog LoggerSyslogConfig `yaml:"syslog"`
}

type LoggerFileConfig struct {
	Enable     bool   `yaml:"enable"`
	Path       string `yaml:"path"`
	MaxSize    int    `yaml:"maxsize"`
	MaxBackups int    `yaml:"maxbackups"`
	MaxAge     int    `yaml:"maxage"`
	Compress   bool   `yaml:"compress"`
}

type LoggerSyslogConfig struct {
	Enable   bool            `yaml:"enable"`
	Protocol string          `yaml:"protocol"`
	Address  string          `yaml:"address"`
	Tag      string          `yaml:"tag"`
	Priority syslog.Priority `yaml:"priority"`
}

// GeoConfig configure la résolution géographique des clics.
// Si Mmdb est renseigné, la base MaxMind locale est prioritaire,
// sinon le service HTTP est interrogé.
type GeoConfig struct {
	Service    string `yaml:"service"`
	Mmdb       string `yaml:"mmdb"`
	MaxRetries int    `yaml:"maxretries"`
	RetryDelay int    `yaml:"retrydelayms"`
}

type AnalyticsConfig struct {
	RetentionDays int    `yaml:"retentiondays"`
	Timezone      string `yaml:"timezone"`
}

func CreateExampleConfig(filename string) (string, error) {
	example := &Config{
		Database: DatabaseConfig{
			Db:   "sqlite",
			Path: "./securelink.db",
		},
		StaticPath: "./client/dist",
		BaseURL:    "http://localhost:8080",
		Production: false,
		Logger: LoggerConfig{
			Level: "info",
			File: LoggerFileConfig{
				Enable: false,
			},
			Syslog: LoggerSyslogConfig{
				Enable: false,
			},
		},
		Listen: ListenConfig{
			Website: "0.0.0.0:8080",
		},
		Geo: GeoConfig{
			Service:    "https://ipapi.co",
			MaxRetries: 3,
			RetryDelay: 1000,
		},
		Analytics: AnalyticsConfig{
			RetentionDays: 90,
		},
	}

	if filename == "/etc/" {
		example.Listen.Website = "127.0.0.1:8000"
		example.Production = true
		example.Database.Path = "/var/lib/securelink/sqlite.db"
		example.StaticPath = "/var/lib/securelink/client"
		example.Logger.File = LoggerFileConfig{
			Enable:     true,
			Path:       "/var/log/securelink/securelink.log",
			MaxSize:    100,
			MaxBackups: 30,
			MaxAge:     7,
			Compress:   true,
		}
		filename = "/etc/securelink/config.yaml"
	}

	return filename, WriteConfigYaml(filename, example)
}

func WriteConfigYaml(filename string, conf *Config) error {
	data, err := yaml.Marshal(conf)
	if err != nil {
		return err
	}

	return os.WriteFile(filename, data, 0644)
}

// Charger la configuration YAML
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("impossible de lire le fichier %s: %v", filename, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("erreur de parsing YAML: %v", err)
	}

	applyDefaults(&config)

	return &config, nil
}

// applyDefaults complète les champs optionnels avec les valeurs d'origine
func applyDefaults(conf *Config) {
	if conf.Geo.Service == "" {
		conf.Geo.Service = "https://ipapi.co"
	}
	if conf.Geo.MaxRetries == 0 {
		conf.Geo.MaxRetries = 3
	}
	if conf.Geo.RetryDelay == 0 {
		conf.Geo.RetryDelay = 1000
	}
	if conf.Analytics.RetentionDays == 0 {
		conf.Analytics.RetentionDays = 90
	}
}

func CreateExample(shouldCreateExample bool, configFile string) {
	// Handle example creation
	if shouldCreateExample {
		if err := handleExampleCreation(configFile); err != nil {
			fmt.Printf("❌ %v\n", err)
		}
		os.Exit(1)
	}

	_, err := os.Stat(configFile)
	if err != nil && os.IsNotExist(err) {
		if err := handleExampleCreation(configFile); err != nil {
			fmt.Printf("❌ %v\n", err)
			os.Exit(1)
		}
	}
}

func handleExampleCreation(filename string) error {
	if filename == "" {
		filename = "securelink.yaml"
	}
	filename, err := CreateExampleConfig(filename)
	if err != nil {
		return fmt.Errorf("erreur création exemple: %v", err)
	}

	fmt.Printf("✅ Fichier exemple créé: %s\n", filename)
	return nil
}
