package config

import (
	"errors"
	"fmt"
	"strings"
)

// Settings is the named-setting store the bot runtime reads and writes.
type Settings interface {
	Get(name string) (string, bool)
	Set(name, value string) error
}

// SettingStore exposes the settings section of an InstanceManager. Writes
// go through ApplyWithCAS, so a `config set` from the shell and a running
// bot never overwrite each other's settings.
type SettingStore struct {
	ins *InstanceManager
}

func (ins *InstanceManager) Settings() *SettingStore {
	return &SettingStore{ins: ins}
}

func (s *SettingStore) Get(name string) (string, bool) {
	ins := s.ins
	ins.mu.RLock()
	defer ins.mu.RUnlock()

	if !ins.loaded || ins.cfg == nil {
		return "", false
	}
	value, ok := ins.cfg.Settings[strings.TrimSpace(name)]
	return value, ok
}

func (s *SettingStore) Set(name, value string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("setting name is required")
	}
	return s.update(name, func(settings map[string]string) bool {
		settings[name] = value
		return true
	})
}

// Delete removes a setting and persists the change.
func (s *SettingStore) Delete(name string) error {
	name = strings.TrimSpace(name)
	return s.update(name, func(settings map[string]string) bool {
		if _, ok := settings[name]; !ok {
			return false
		}
		delete(settings, name)
		return true
	})
}

// update applies mutate to a copy of the settings. On a conflict the file is
// reloaded once and mutate is replayed on the fresh settings.
func (s *SettingStore) update(name string, mutate func(map[string]string) bool) error {
	for attempt := 0; ; attempt++ {
		hash, settings, err := s.snapshot()
		if err != nil {
			return err
		}
		if !mutate(settings) {
			return nil
		}

		err = s.ins.ApplyWithCAS("settings", settings, hash)
		if errors.Is(err, ErrConfigConflict) && attempt == 0 {
			if _, err := s.ins.Load(""); err != nil {
				return fmt.Errorf("reload config after conflict on %s: %w", name, err)
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("persist setting %s: %w", name, err)
		}
		return nil
	}
}

func (s *SettingStore) snapshot() (string, map[string]string, error) {
	ins := s.ins
	ins.mu.RLock()
	defer ins.mu.RUnlock()

	if !ins.loaded || ins.cfg == nil {
		return "", nil, fmt.Errorf("config is not loaded")
	}
	settings := make(map[string]string, len(ins.cfg.Settings)+1)
	for k, v := range ins.cfg.Settings {
		settings[k] = v
	}
	return ins.hash, settings, nil
}
