package cache

import (
	"context"
	"fmt"
)

// SaveUserPreferences replaces the whole preference record of p.Address.
func (m *Manager) SaveUserPreferences(ctx context.Context, p Preferences) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if err := m.store.Put(ctx, PreferencesCollection, p); err != nil {
		return fmt.Errorf("save preferences %s: %w", p.Address, err)
	}
	return nil
}

// GetUserPreferencesWithDefaults returns the stored preferences, creating
// and persisting the defaults on first access. A record saved concurrently
// wins over the defaults.
func (m *Manager) GetUserPreferencesWithDefaults(ctx context.Context, address string) (*Preferences, error) {
	p, err := m.getPreferences(ctx, address)
	if err != nil || p != nil {
		return p, err
	}

	d := DefaultPreferences(address)
	if err := d.Validate(); err != nil {
		return nil, err
	}
	created, err := m.store.Add(ctx, PreferencesCollection, d)
	if err != nil {
		return nil, fmt.Errorf("save preferences %s: %w", address, err)
	}
	if created {
		m.log.Debug(ctx, "default preferences created", "address", address)
		return &d, nil
	}

	p, err = m.getPreferences(ctx, address)
	if err != nil {
		return nil, err
	}
	if p == nil {
		// Saved and cleared again in between; the defaults stand.
		return &d, nil
	}
	return p, nil
}

func (m *Manager) getPreferences(ctx context.Context, address string) (*Preferences, error) {
	var p Preferences
	found, err := m.store.Get(ctx, PreferencesCollection, address, &p)
	if err != nil {
		return nil, fmt.Errorf("get preferences %s: %w", address, err)
	}
	if !found {
		return nil, nil
	}
	return &p, nil
}

// UpdateUserPreferences applies fn to the current (or default) preferences
// and saves the result. The address cannot be changed by fn.
func (m *Manager) UpdateUserPreferences(ctx context.Context, address string, fn func(*Preferences)) (*Preferences, error) {
	p, err := m.GetUserPreferencesWithDefaults(ctx, address)
	if err != nil {
		return nil, err
	}
	fn(p)
	p.Address = address
	if err := m.SaveUserPreferences(ctx, *p); err != nil {
		return nil, err
	}
	return p, nil
}

// ClearUserPreferences removes every stored preference record.
func (m *Manager) ClearUserPreferences(ctx context.Context) error {
	return m.store.Clear(ctx, PreferencesCollection)
}
