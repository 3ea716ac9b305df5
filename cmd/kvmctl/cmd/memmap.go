/*
Copyright © 2025 blacktop

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
THE SOFTWARE.
*/
package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/blacktop/go-kvm"
	"gopkg.in/yaml.v3"
)

// MemoryMap describes the guest memory layout installed by the map command.
type MemoryMap struct {
	Mode    string         `yaml:"mode,omitempty"`
	Device  string         `yaml:"device,omitempty"`
	Regions []RegionConfig `yaml:"regions"`
}

// RegionConfig is one guest physical region backed by anonymous host memory.
type RegionConfig struct {
	Name  string `yaml:"name,omitempty"`
	Guest uint64 `yaml:"guest"`
	Size  uint64 `yaml:"size,omitempty"`
	// File is copied to the start of the region. Relative paths are
	// resolved against the directory of the memory map.
	File string `yaml:"file,omitempty"`
}

func (m *MemoryMap) normalize(dir string, pageSize uint64) {
	if m.Mode == "" {
		m.Mode = kvm.ModeAArch64.String()
	}
	for i := range m.Regions {
		r := &m.Regions[i]
		if r.Name == "" {
			r.Name = fmt.Sprintf("region%d", i)
		}
		if r.File != "" && !filepath.IsAbs(r.File) {
			r.File = filepath.Join(dir, r.File)
		}
		if r.Size == 0 {
			r.Size = pageSize
		}
	}
}

func (m *MemoryMap) validate() error {
	if _, err := kvm.ParseExecutionMode(m.Mode); err != nil {
		return err
	}
	if len(m.Regions) == 0 {
		return fmt.Errorf("no regions defined")
	}
	return nil
}

// LoadMemoryMap reads and normalizes a YAML memory map.
func LoadMemoryMap(path string, pageSize uint64) (MemoryMap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return MemoryMap{}, fmt.Errorf("read %s: %w", path, err)
	}

	var m MemoryMap
	if err := yaml.Unmarshal(data, &m); err != nil {
		return MemoryMap{}, fmt.Errorf("parse %s: %w", path, err)
	}
	m.normalize(filepath.Dir(path), pageSize)
	if err := m.validate(); err != nil {
		return MemoryMap{}, fmt.Errorf("invalid %s: %w", path, err)
	}
	return m, nil
}
