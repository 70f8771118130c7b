package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

// sources lists where settings come from. Later sources win:
// .env file, then process environment, then overrides.
type sources struct {
	envFile   string
	system    bool
	overrides map[string]string
}

// WithEnvFile reads local overrides from path. An empty path skips the file.
func WithEnvFile(path string) Option {
	return func(l *loader) { l.envFile = path }
}

// WithEnvMap layers explicit values over every other source.
func WithEnvMap(values map[string]string) Option {
	return func(l *loader) { l.overrides = values }
}

// WithoutSystemEnv ignores the process environment.
func WithoutSystemEnv() Option {
	return func(l *loader) { l.system = false }
}

// EnvironmentValues returns the merged settings map Load would read, for
// bootstrapping dependencies (logger, secret fetcher) that Load itself needs.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	return newLoader(opts).merged()
}

func (s sources) merged() (map[string]string, error) {
	values, err := readDotEnv(s.envFile)
	if err != nil {
		return nil, err
	}
	if s.system {
		for _, kv := range os.Environ() {
			if key, value, ok := strings.Cut(kv, "="); ok && strings.TrimSpace(key) != "" {
				values[strings.TrimSpace(key)] = value
			}
		}
	}
	for key, value := range s.overrides {
		values[key] = value
	}
	return values, nil
}

func (s sources) reader() (envReader, error) {
	values, err := s.merged()
	if err != nil {
		return nil, err
	}
	return envReader(values), nil
}

func readDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return map[string]string{}, nil
	}
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer file.Close()
	values, err := parseDotEnv(file)
	if err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return values, nil
}

// parseDotEnv accepts KEY=VALUE lines with optional "export " prefixes and
// quotes. Comments and malformed lines are skipped.
func parseDotEnv(r io.Reader) (map[string]string, error) {
	values := map[string]string{}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line[0] == '#' {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, value, ok := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			continue
		}
		values[key] = strings.Trim(strings.TrimSpace(value), `"'`)
	}
	return values, scanner.Err()
}

// envReader reads typed settings. Blank or unparsable values fall back to the default.
type envReader map[string]string

func (e envReader) raw(key string) (string, bool) {
	value := strings.TrimSpace(e[key])
	return value, value != ""
}

func (e envReader) str(key, fallback string) string {
	if value, ok := e.raw(key); ok {
		return value
	}
	return fallback
}

func (e envReader) duration(key string, fallback time.Duration) time.Duration {
	if value, ok := e.raw(key); ok {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func (e envReader) integer(key string, fallback int) int {
	if value, ok := e.raw(key); ok {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

// list splits a comma separated value, dropping blanks.
func (e envReader) list(key string) []string {
	out := []string{}
	value, _ := e.raw(key)
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
