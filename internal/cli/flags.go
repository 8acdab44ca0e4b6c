// Package cli implements the hubtap commands.
package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/hubtap/hubtap/internal/config"
)

func parseStringFlag(args []string, flag string) (string, error) {
	for i, arg := range args {
		if arg == flag {
			if i+1 < len(args) {
				return args[i+1], nil
			}
			return "", fmt.Errorf("flag %s requires a value", flag)
		}
	}
	return "", nil
}

// parseStringFlagAll returns every value of a repeatable flag, in order.
func parseStringFlagAll(args []string, flag string) ([]string, error) {
	var vals []string
	for i, arg := range args {
		if arg == flag {
			if i+1 >= len(args) {
				return nil, fmt.Errorf("flag %s requires a value", flag)
			}
			vals = append(vals, args[i+1])
		}
	}
	return vals, nil
}

func parseIntFlag(args []string, flag string, defaultVal int) (int, error) {
	str, err := parseStringFlag(args, flag)
	if err != nil {
		return 0, err
	}
	if str == "" {
		return defaultVal, nil
	}
	var val int
	if _, err := fmt.Sscanf(str, "%d", &val); err != nil {
		return 0, fmt.Errorf("invalid value for %s: must be an integer", flag)
	}
	return val, nil
}

func hasFlag(args []string, flag string) bool {
	for _, arg := range args {
		if arg == flag {
			return true
		}
	}
	return false
}

// loadProfile resolves the profile for a command. --connection-string beats
// the environment, which beats the profile file. With no credential anywhere
// and an attached terminal, the user is prompted once without echo.
func loadProfile(args []string, allowPrompt bool) (*config.Profile, error) {
	path, err := parseStringFlag(args, "--profile")
	if err != nil {
		return nil, err
	}
	if cs, err := parseStringFlag(args, "--connection-string"); err != nil {
		return nil, err
	} else if cs != "" {
		if err := os.Setenv(config.EnvConnectionString, cs); err != nil {
			return nil, fmt.Errorf("set connection string: %w", err)
		}
	}

	p, err := config.Load(path)
	if err == nil {
		return applyOverrides(p, args)
	}
	if !allowPrompt || !strings.Contains(err.Error(), "connectionString is required") {
		return nil, err
	}

	cs, perr := promptConnectionString(os.Stdin, os.Stderr)
	if perr != nil || cs == "" {
		return nil, err
	}
	if err := os.Setenv(config.EnvConnectionString, cs); err != nil {
		return nil, fmt.Errorf("set connection string: %w", err)
	}
	p, err = config.Load(path)
	if err != nil {
		return nil, err
	}
	return applyOverrides(p, args)
}

func applyOverrides(p *config.Profile, args []string) (*config.Profile, error) {
	if hub, err := parseStringFlag(args, "--hub"); err != nil {
		return nil, err
	} else if hub != "" {
		p.EventHub = hub
	}
	if group, err := parseStringFlag(args, "--group"); err != nil {
		return nil, err
	} else if group != "" {
		p.Group = group
	}
	return p, nil
}
