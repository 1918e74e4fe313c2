package config

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/runoshun/crewteam/internal/domain"
)

// Manager inspects and creates configuration files.
type Manager struct {
	loader *Loader
}

// NewManager creates a Manager for the files l reads.
func NewManager(l *Loader) *Manager {
	return &Manager{loader: l}
}

// ProjectConfigInfo returns information about the project config file.
func (m *Manager) ProjectConfigInfo() domain.ConfigInfo {
	return configInfo(m.loader.ProjectPath())
}

// GlobalConfigInfo returns information about the global config file.
func (m *Manager) GlobalConfigInfo() domain.ConfigInfo {
	path := m.loader.GlobalPath()
	if path == "" {
		return domain.ConfigInfo{}
	}
	return configInfo(path)
}

// InitProjectConfig writes the commented template to the project config path.
func (m *Manager) InitProjectConfig() (string, error) {
	path := m.loader.ProjectPath()
	return path, initConfig(path)
}

// InitGlobalConfig writes the commented template to the global config path.
func (m *Manager) InitGlobalConfig() (string, error) {
	path := m.loader.GlobalPath()
	if path == "" {
		return "", errors.New("global config directory not available")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", err
	}
	return path, initConfig(path)
}

func configInfo(path string) domain.ConfigInfo {
	content, err := os.ReadFile(path) //nolint:gosec // config path
	if err != nil {
		return domain.ConfigInfo{Path: path}
	}
	return domain.ConfigInfo{Path: path, Content: string(content), Exists: true}
}

func initConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return domain.ErrConfigExists
	}
	return os.WriteFile(path, []byte(domain.ConfigTemplate()), 0o600)
}
