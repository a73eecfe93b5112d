// Package profile - всё, что зависит от хоста: стратегии поиска, шаблоны
// извлечения и формулировки подтверждения.
package profile

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/fffoivos/Amazon-lists/confirm"
	"github.com/fffoivos/Amazon-lists/extract"
	"github.com/fffoivos/Amazon-lists/item"
	"github.com/fffoivos/Amazon-lists/locator"
)

//go:embed default.yaml
var defaultYAML []byte

type Profile struct {
	Name         string         `yaml:"name"`
	FilterKey    string         `yaml:"filterKey"`
	Roles        locator.Table  `yaml:"roles"`
	Extraction   extract.Config `yaml:"extraction"`
	Confirmation confirm.Config `yaml:"confirmation"`
	Item         item.Config    `yaml:"item"`
}

// Обязательные роли, остальные по желанию.
var required = []locator.Role{
	locator.DropdownTrigger,
	locator.CollectionPanel,
	locator.CollectionLink,
}

// Default возвращает встроенный профиль Amazon.
func Default() *Profile {
	p, err := Parse(defaultYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded profile: %v", err))
	}
	return p
}

// Load читает файл профиля, для пустого пути - Default.
func Load(path string) (*Profile, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile: %w", err)
	}
	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("profile %s: %w", path, err)
	}
	return p, nil
}

func Parse(data []byte) (*Profile, error) {
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse profile: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

func (p *Profile) Validate() error {
	for _, r := range required {
		if len(p.Roles[r]) == 0 {
			return fmt.Errorf("role %s is required", r)
		}
	}
	if err := p.Roles.Validate(); err != nil {
		return err
	}
	if err := p.Extraction.Validate(); err != nil {
		return err
	}
	if err := p.Confirmation.Validate(); err != nil {
		return err
	}
	return p.Item.Validate()
}
