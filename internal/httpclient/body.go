package httpclient

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/torosent/rampfire/internal/config"
)

// LoadBody returns the configured request payload. A body file is read once.
func LoadBody(cfg *config.Config) ([]byte, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}

	bodyFile := strings.TrimSpace(cfg.BodyFile)
	if cfg.Body != "" && bodyFile != "" {
		return nil, errors.New("body and body file cannot both be provided")
	}
	if cfg.Body != "" {
		return []byte(cfg.Body), nil
	}
	if bodyFile == "" {
		return nil, nil
	}

	info, err := os.Stat(bodyFile)
	if err != nil {
		return nil, fmt.Errorf("body file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("body file %q is a directory", bodyFile)
	}
	data, err := os.ReadFile(bodyFile)
	if err != nil {
		return nil, fmt.Errorf("body file: %w", err)
	}
	return data, nil
}
