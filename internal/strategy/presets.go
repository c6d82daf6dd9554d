package strategy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Preset 描述一组命名参数预设，可用作搜索起点或直接回测。
type Preset struct {
	Strategy string         `yaml:"strategy"`
	Params   map[string]any `yaml:"params"`
	Space    Space          `yaml:"space,omitempty"`
}

// LoadPresets 从 YAML 文件读取策略预设（name -> preset）。
func LoadPresets(path string) (map[string]Preset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var presets map[string]Preset
	if err := yaml.Unmarshal(data, &presets); err != nil {
		return nil, fmt.Errorf("strategy: parse presets %s: %w", path, err)
	}
	for name, p := range presets {
		if p.Strategy == "" {
			return nil, fmt.Errorf("strategy: preset %q missing strategy name", name)
		}
		if len(p.Space) > 0 {
			if err := p.Space.Validate(); err != nil {
				return nil, fmt.Errorf("strategy: preset %q: %w", name, err)
			}
		}
	}
	return presets, nil
}
