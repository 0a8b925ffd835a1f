// Package config loads the user configuration file of stardbg.
package config

import (
	"fmt"
	"io"
	"os"
	"os/user"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v2"
)

const (
	configDir  string = ".stardbg"
	configFile string = "config.yml"
)

// Config defines all configuration options available to be set through the config file.
type Config struct {
	// Commands aliases.
	Aliases map[string][]string `yaml:"aliases"`

	// MaxReprLen is the maximum length of the values shown by stack, locals
	// and globals.
	MaxReprLen *int `yaml:"max-repr-len,omitempty"`

	// ConnectAttempts and ConnectInterval control how long the client
	// waits for a runner to start listening.
	ConnectAttempts *int           `yaml:"connect-attempts,omitempty"`
	ConnectInterval *time.Duration `yaml:"connect-interval,omitempty"`

	// SourceCacheSize is the number of source files the runner keeps in
	// memory.
	SourceCacheSize *int `yaml:"source-cache-size,omitempty"`

	// Skip lists glob patterns of files the debugger never stops in,
	// unless a breakpoint is hit.
	Skip []string `yaml:"skip"`

	// Source list line-number color (3/4 bit color codes as defined
	// here: https://en.wikipedia.org/wiki/ANSI_escape_code#Colors)
	SourceListLineColor int `yaml:"source-list-line-color"`
}

// LoadConfig attempts to populate a Config object from the config.yml
// file, creating a commented default file if there is none. Problems are
// reported on stderr and result in an empty configuration.
func LoadConfig() *Config {
	err := createConfigPath()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Could not create config directory: %v.\n", err)
		return &Config{}
	}
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unable to get config file path: %v.\n", err)
		return &Config{}
	}
	c, err := LoadConfigFrom(fullConfigFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v.\n", err)
		return &Config{}
	}
	return c
}

// LoadConfigFrom reads the configuration stored in path, creating the
// default configuration there if the file does not exist.
func LoadConfigFrom(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		f, err = createDefaultConfig(path)
		if err != nil {
			return nil, fmt.Errorf("error creating default config file: %v", err)
		}
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("unable to read config data: %v", err)
	}

	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("unable to decode config file: %v", err)
	}
	return &c, nil
}

// SaveConfig will marshal and save the config struct
// to disk.
func SaveConfig(conf *Config) error {
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		return err
	}

	out, err := yaml.Marshal(*conf)
	if err != nil {
		return err
	}

	return os.WriteFile(fullConfigFile, out, 0600)
}

func createDefaultConfig(path string) (*os.File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("unable to create config file: %v", err)
	}
	if err := writeDefaultConfig(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("unable to write default configuration: %v", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

func writeDefaultConfig(f *os.File) error {
	_, err := f.WriteString(
		`# Configuration file for the stardbg debugger.

# This is the default configuration file. Available options are provided, but disabled.
# Delete the leading hash mark to enable an item.

# Uncomment the following line and set your preferred ANSI foreground color
# for source line numbers in the (list) command (if unset, default is 34,
# dark blue) See https://en.wikipedia.org/wiki/ANSI_escape_code#3/4_bit
# source-list-line-color: 34

# Provided aliases will be added to the default aliases for a given command.
aliases:
  # command: ["alias1", "alias2"]

# Maximum length of the values shown by the stack, locals and globals commands.
# max-repr-len: 512

# Number of attempts made to connect to a runner, and the pause between them.
# connect-attempts: 50
# connect-interval: 200ms

# Number of source files kept in memory by the runner.
# source-cache-size: 64

# Files the debugger never stops in unless a breakpoint is hit.
skip:
  # - "**/vendor/**"
`)
	return err
}

// createConfigPath creates the directory structure at which all config files are saved.
func createConfigPath() error {
	path, err := GetConfigFilePath("")
	if err != nil {
		return err
	}
	return os.MkdirAll(path, 0700)
}

// GetConfigFilePath gets the full path to the given config file name.
func GetConfigFilePath(file string) (string, error) {
	userHomeDir := "."
	usr, err := user.Current()
	if err == nil {
		userHomeDir = usr.HomeDir
	}
	return filepath.Join(userHomeDir, configDir, file), nil
}

// IntOr returns *v, or def if v is nil.
func IntOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

// DurationOr returns *v, or def if v is nil.
func DurationOr(v *time.Duration, def time.Duration) time.Duration {
	if v == nil {
		return def
	}
	return *v
}
