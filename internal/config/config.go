// Package config loads the engine's flat, `.env`-style configuration
// file from the directory named by PULSEONE_HOME or --config, per
// spec.md §6. Generalizes the teacher's internal/config.Load: the same
// bufio.Scanner-driven line walk with `#` comment stripping and
// `key = value` splitting, repointed from the teacher's
// [server]/[[registers]] INI sections (which existed only to describe
// a single simulated Modbus server) onto a flat key=value file naming
// the ambient concerns spec.md §6 lists: active-database selector,
// SQLite path, cache host/port, history host/port/token, log level,
// log path.
package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Config is the parsed contents of the `.env`-style config file.
type Config struct {
	ActiveDB     string
	SQLitePath   string
	CacheHost    string
	CachePort    int
	HistoryHost  string
	HistoryPort  int
	HistoryToken string
	LogLevel     string
	LogPath      string
}

const envFileName = ".env"

// Load reads <dir>/.env. Unrecognized keys are ignored rather than
// rejected, since spec.md §6 describes a minimum key set, not a closed
// one - a future key an older binary doesn't know about must not be a
// hard config error.
func Load(dir string) (Config, error) {
	path := filepath.Join(dir, envFileName)
	file, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("open config %s: %w", path, err)
	}
	defer file.Close()

	cfg := Config{
		ActiveDB:   "sqlite",
		SQLitePath: filepath.Join(dir, "collector.sqlite"),
		CacheHost:  "127.0.0.1",
		CachePort:  6379,
		LogLevel:   "info",
	}

	scanner := bufio.NewScanner(file)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if idx := strings.Index(line, "#"); idx >= 0 {
			line = strings.TrimSpace(line[:idx])
		}
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return Config{}, fmt.Errorf("invalid line %d in %s: %s", lineNum, path, line)
		}
		key := strings.TrimSpace(parts[0])
		value := parseString(parts[1])
		if err := assign(&cfg, key, value); err != nil {
			return Config{}, fmt.Errorf("line %d in %s: %w", lineNum, path, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func assign(cfg *Config, key, value string) error {
	switch key {
	case "PULSEONE_ACTIVE_DB":
		cfg.ActiveDB = value
	case "PULSEONE_SQLITE_PATH":
		cfg.SQLitePath = value
	case "PULSEONE_CACHE_HOST":
		cfg.CacheHost = value
	case "PULSEONE_CACHE_PORT":
		v, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid PULSEONE_CACHE_PORT: %w", err)
		}
		cfg.CachePort = v
	case "PULSEONE_HISTORY_HOST":
		cfg.HistoryHost = value
	case "PULSEONE_HISTORY_PORT":
		v, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid PULSEONE_HISTORY_PORT: %w", err)
		}
		cfg.HistoryPort = v
	case "PULSEONE_HISTORY_TOKEN":
		cfg.HistoryToken = value
	case "PULSEONE_LOG_LEVEL":
		cfg.LogLevel = value
	case "PULSEONE_LOG_PATH":
		cfg.LogPath = value
	default:
		// unrecognized key: ignored, not rejected.
	}
	return nil
}

func parseString(value string) string {
	value = strings.TrimSpace(value)
	if strings.HasPrefix(value, "\"") && strings.HasSuffix(value, "\"") {
		return strings.Trim(value, "\"")
	}
	return value
}
