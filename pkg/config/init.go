package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// sectionComments document each top-level section of a generated file.
var sectionComments = map[string]string{
	"logging":     "Logging: level (DEBUG, INFO, WARN, ERROR), format (text, json), output (stdout, stderr, file path)",
	"device":      "Device: host directory (type os) or in-memory tree, app package and mounted SD cards (XXXX-XXXX)",
	"platform":    "Platform: OS API level and the storage privileges held by the app",
	"grants":      "Grants: persisted document tree permissions (memory, bolt)",
	"media_index": "Media index: the media collections (memory, badger)",
	"transfer":    "Transfer: defaults applied to every copy and move",
	"sweep":       "Sweep: periodic release of grants covered by a broader grant",
	"metrics":     "Metrics: Prometheus endpoint served on /metrics",
}

// InitConfig writes a default configuration file to the default location.
//
// Returns the path of the written file. Fails if the file already exists
// unless force is set.
func InitConfig(force bool) (string, error) {
	configPath := GetDefaultConfigPath()
	if err := InitConfigToPath(configPath, force); err != nil {
		return "", err
	}
	return configPath, nil
}

// InitConfigToPath writes a default configuration file to configPath,
// creating parent directories as needed.
func InitConfigToPath(configPath string, force bool) error {
	if !force {
		if _, err := os.Stat(configPath); err == nil {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", configPath)
		}
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	content, err := generateYAMLWithComments(GetDefaultConfig())
	if err != nil {
		return err
	}

	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// generateYAMLWithComments renders cfg as YAML with a header and a comment
// above each top-level section.
func generateYAMLWithComments(cfg *Config) (string, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("failed to marshal config: %w", err)
	}

	var b strings.Builder
	b.WriteString("# scopedfs Configuration File\n")
	b.WriteString("#\n")
	b.WriteString("# Every value can be overridden with SCOPEDFS_<SECTION>_<KEY>\n")
	b.WriteString("# environment variables, e.g. SCOPEDFS_PLATFORM_SDK_LEVEL=29\n")

	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	for scanner.Scan() {
		line := scanner.Text()
		if key, ok := strings.CutSuffix(line, ":"); ok && !strings.HasPrefix(line, " ") {
			if comment, ok := sectionComments[key]; ok {
				b.WriteString("\n# " + comment + "\n")
			}
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}

	return b.String(), nil
}
