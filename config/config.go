package config

import (
	"errors"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     Server
	Mongo      Mongo
	Redis      Redis
	Relay      Relay
	Session    Session
	LoggerMode LoggerMode
}

type Server struct {
	Addr string
}

type Mongo struct {
	URI      string
	Database string
}

type Redis struct {
	Addr     string
	Password string
	DB       int
}

type Relay struct {
	BaseURL string
	// EnvelopeTTL is the relay retention window; envelopes auto-expire
	// after it elapses.
	EnvelopeTTL time.Duration
}

type Session struct {
	SampleInterval time.Duration
	KeyringService string
}

type LoggerMode struct {
	Development bool
	Level       string
}

func LoadConfig(filename string) (*viper.Viper, error) {
	v := viper.New()

	v.SetConfigName(filename)
	v.SetConfigType("yaml")
	v.AddConfigPath("config")
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil, errors.New("config file not found")
		}
		return nil, err
	}
	return v, nil
}

func ParseConfig(v *viper.Viper) (*Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, err
	}
	return &c, nil
}

// Default returns the local single-node setup used when no config file is
// present.
func Default() *Config {
	return &Config{
		Server: Server{Addr: "localhost:9090"},
		Mongo:  Mongo{URI: "mongodb://localhost:27017", Database: "greenbox"},
		Redis:  Redis{Addr: "localhost:6379"},
		Relay: Relay{
			BaseURL:     "http://localhost:9090",
			EnvelopeTTL: 5 * time.Minute,
		},
		Session: Session{
			SampleInterval: 15 * time.Second,
			KeyringService: "greenbox",
		},
		LoggerMode: LoggerMode{Development: true, Level: "debug"},
	}
}
