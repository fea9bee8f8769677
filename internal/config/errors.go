package config

import "fmt"

// ConfigError reports configuration that cannot be used: a configuration file
// that exists but cannot be parsed, an invalid command-line value, or a value
// outside its permitted range. It is fatal at startup.
type ConfigError struct {
	Path string
	Key  string
	Err  error
}

func (e *ConfigError) Error() string {
	switch {
	case e.Path != "" && e.Key != "":
		return fmt.Sprintf("config %s: %s: %v", e.Path, e.Key, e.Err)
	case e.Path != "":
		return fmt.Sprintf("config %s: %v", e.Path, e.Err)
	case e.Key != "":
		return fmt.Sprintf("config: %s: %v", e.Key, e.Err)
	default:
		return fmt.Sprintf("config: %v", e.Err)
	}
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}
