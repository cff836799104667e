package layout

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LayoutsFilename is the optional frame catalogue inside the frames dir.
const LayoutsFilename = "layouts.yaml"

type yamlFrame struct {
	Config    `yaml:",inline"`
	Custom    bool    `yaml:"custom"`
	TextColor string  `yaml:"text_color"`
	Nudge     float64 `yaml:"nudge"`
}

type yamlCatalogue struct {
	Frames []yamlFrame `yaml:"frames"`
}

// LoadYAML registers every frame declared in a layouts file. A missing file
// is not an error. It returns the number of frames registered.
func (r *Registry) LoadYAML(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read layouts: %w", err)
	}

	var cat yamlCatalogue
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return 0, fmt.Errorf("parse layouts %s: %w", path, err)
	}

	for i, yf := range cat.Frames {
		f := Frame{Config: yf.Config, Custom: yf.Custom, TextColor: yf.TextColor, Nudge: yf.Nudge}
		if err := r.Register(f); err != nil {
			return i, fmt.Errorf("layouts entry %d: %w", i, err)
		}
	}
	return len(cat.Frames), nil
}
