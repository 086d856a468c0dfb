package server

import (
	"fmt"
	"os"
	"strings"

	"github.com/existflow/todosync/internal/logger"
)

// Env holds the process environment the server binary reads
type Env struct {
	Port        string
	DatabaseURL string
	Store       string
	Config      Config
}

// LoadEnv reads the server configuration from the environment
func LoadEnv(getenv func(string) string) (Env, error) {
	if getenv == nil {
		getenv = os.Getenv
	}

	env := Env{
		Port:        getenv("PORT"),
		DatabaseURL: getenv("DATABASE_URL"),
		Store:       getenv("STORE"),
	}
	if env.Port == "" {
		env.Port = "8080"
	}
	if env.Store == "" {
		env.Store = "postgres"
		if env.DatabaseURL == "" {
			env.DatabaseURL = "postgres://localhost:5432/todosync?sslmode=disable"
		}
	}
	if env.Store != "postgres" && env.Store != "memory" {
		return Env{}, fmt.Errorf("unknown STORE %q (want postgres or memory)", env.Store)
	}

	cfg := Config{AuthMode: getenv("AUTH_MODE")}
	if cfg.AuthMode == "" {
		cfg.AuthMode = AuthAPIKey
	}

	for _, k := range strings.Split(getenv("API_KEYS"), ",") {
		if k = strings.TrimSpace(k); k != "" {
			cfg.APIKeys = append(cfg.APIKeys, k)
		}
	}

	// IAM_CREDENTIALS is a comma separated list of id:secret pairs
	if raw := getenv("IAM_CREDENTIALS"); raw != "" {
		cfg.IAMCredentials = make(map[string]string)
		for _, pair := range strings.Split(raw, ",") {
			id, secret, ok := strings.Cut(strings.TrimSpace(pair), ":")
			if !ok || id == "" || secret == "" {
				return Env{}, fmt.Errorf("invalid IAM_CREDENTIALS entry %q", pair)
			}
			cfg.IAMCredentials[id] = secret
		}
	}

	switch cfg.AuthMode {
	case AuthAPIKey:
		if len(cfg.APIKeys) == 0 {
			return Env{}, fmt.Errorf("AUTH_MODE=api_key needs API_KEYS")
		}
	case AuthIAM:
		if len(cfg.IAMCredentials) == 0 {
			return Env{}, fmt.Errorf("AUTH_MODE=iam needs IAM_CREDENTIALS")
		}
	case AuthUserPool:
	default:
		return Env{}, fmt.Errorf("unknown AUTH_MODE %q", cfg.AuthMode)
	}

	level := logger.INFO
	if v := getenv("LOG_LEVEL"); v != "" {
		level = logger.ParseLevel(v)
	}
	log, err := logger.New(logger.Config{Level: level, Console: true})
	if err != nil {
		return Env{}, fmt.Errorf("failed to create logger: %w", err)
	}
	cfg.Logger = log

	env.Config = cfg
	return env, nil
}

// OpenStore opens the store the environment selects
func (e Env) OpenStore() (Store, error) {
	if e.Store == "memory" {
		return NewMemoryStore(), nil
	}
	return OpenPostgres(e.DatabaseURL)
}
