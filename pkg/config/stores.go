package config

import (
	"context"
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/marmos91/scopedfs/pkg/grant"
	grantbolt "github.com/marmos91/scopedfs/pkg/grant/bolt"
	grantmemory "github.com/marmos91/scopedfs/pkg/grant/memory"
	"github.com/marmos91/scopedfs/pkg/mediaindex"
	mediabadger "github.com/marmos91/scopedfs/pkg/mediaindex/badger"
	mediamemory "github.com/marmos91/scopedfs/pkg/mediaindex/memory"
)

// memoryGrantsYAMLConfig represents the grants.memory section.
type memoryGrantsYAMLConfig struct {
	Limit int `mapstructure:"limit"`
}

// boltGrantsYAMLConfig represents the grants.bolt section.
type boltGrantsYAMLConfig struct {
	Path    string        `mapstructure:"path"`
	Limit   int           `mapstructure:"limit"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// badgerMediaIndexYAMLConfig represents the media_index.badger section.
type badgerMediaIndexYAMLConfig struct {
	DBPath   string `mapstructure:"db_path"`
	InMemory bool   `mapstructure:"in_memory"`
}

// decodeOptions decodes a type-specific section into out. Durations may be
// written as strings ("500ms") in YAML and environment values.
func decodeOptions(options map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(options)
}

// createGrantStore creates the grant table store selected by cfg.Type.
func createGrantStore(ctx context.Context, cfg GrantsConfig) (grant.Store, error) {
	switch cfg.Type {
	case "memory":
		var memCfg memoryGrantsYAMLConfig
		if err := decodeOptions(cfg.Memory, &memCfg); err != nil {
			return nil, fmt.Errorf("invalid memory config: %w", err)
		}
		return grantmemory.NewGrantStoreWithLimit(memCfg.Limit), nil

	case "bolt":
		var boltCfg boltGrantsYAMLConfig
		if err := decodeOptions(cfg.Bolt, &boltCfg); err != nil {
			return nil, fmt.Errorf("invalid bolt config: %w", err)
		}
		if boltCfg.Path == "" {
			return nil, fmt.Errorf("bolt path is required")
		}

		store, err := grantbolt.NewGrantStore(ctx, grantbolt.GrantStoreConfig{
			Path:    boltCfg.Path,
			Limit:   boltCfg.Limit,
			Timeout: boltCfg.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open grant database: %w", err)
		}
		return store, nil

	default:
		return nil, fmt.Errorf("unknown grant store type: %q", cfg.Type)
	}
}

// createMediaIndexStore creates the media index selected by cfg.Type.
func createMediaIndexStore(ctx context.Context, cfg MediaIndexConfig) (mediaindex.Store, error) {
	switch cfg.Type {
	case "memory":
		return mediamemory.NewMediaIndexStore(), nil

	case "badger":
		var badgerCfg badgerMediaIndexYAMLConfig
		if err := decodeOptions(cfg.Badger, &badgerCfg); err != nil {
			return nil, fmt.Errorf("invalid badger config: %w", err)
		}
		if badgerCfg.DBPath == "" && !badgerCfg.InMemory {
			return nil, fmt.Errorf("badger db_path is required")
		}

		store, err := mediabadger.NewMediaIndexStore(ctx, mediabadger.MediaIndexStoreConfig{
			DBPath:   badgerCfg.DBPath,
			InMemory: badgerCfg.InMemory,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open badger database: %w", err)
		}
		return store, nil

	default:
		return nil, fmt.Errorf("unknown media index type: %q", cfg.Type)
	}
}
