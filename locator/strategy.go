package locator

import (
	"fmt"
	"regexp"
	"strings"
)

// Role - логический элемент страницы хоста.
type Role string

const (
	DropdownTrigger      Role = "dropdownTrigger"
	CollectionPanel      Role = "collectionPanel"
	PanelSearch          Role = "panelSearch"
	CollectionLink       Role = "collectionLink"
	CollectionByName     Role = "collectionByName"
	CreateCollectionLink Role = "createCollectionLink"
	CreateNameField      Role = "createNameField"
	CreateSubmit         Role = "createSubmit"
	StatusHeader         Role = "statusHeader"
	ItemIdentifier       Role = "itemIdentifier"
	ItemTitle            Role = "itemTitle"
	ItemPrice            Role = "itemPrice"
	ItemImage            Role = "itemImage"
)

type Kind string

const (
	// KindSelector: первый элемент по Selector.
	KindSelector Kind = "selector"
	// KindText: первый элемент по Selector, текст которого подходит под Pattern.
	KindText Kind = "text"
	// KindAttribute: первый элемент по Selector, у которого Attr подходит под Pattern.
	KindAttribute Kind = "attribute"
)

// Strategy - один способ найти роль. В Selector и Pattern могут быть
// подстановки {var} из Query.Vars.
type Strategy struct {
	Kind     Kind   `yaml:"kind"`
	Selector string `yaml:"selector"`
	Attr     string `yaml:"attr,omitempty"`
	Pattern  string `yaml:"pattern,omitempty"`
}

func (s Strategy) String() string {
	switch s.Kind {
	case KindText:
		return fmt.Sprintf("text(%s ~ %s)", s.Selector, s.Pattern)
	case KindAttribute:
		return fmt.Sprintf("attr(%s[%s] ~ %s)", s.Selector, s.Attr, s.Pattern)
	default:
		return fmt.Sprintf("selector(%s)", s.Selector)
	}
}

func (s Strategy) Validate() error {
	if strings.TrimSpace(s.Selector) == "" {
		return fmt.Errorf("empty selector")
	}
	switch s.Kind {
	case KindSelector:
	case KindText:
		if s.Pattern == "" {
			return fmt.Errorf("text strategy %q needs a pattern", s.Selector)
		}
	case KindAttribute:
		if s.Attr == "" {
			return fmt.Errorf("attribute strategy %q needs attr", s.Selector)
		}
	default:
		return fmt.Errorf("unknown strategy kind %q", s.Kind)
	}
	if s.Pattern != "" {
		// Подстановки станут экранированными литералами, проверяем с заглушкой.
		if _, err := regexp.Compile(expand(s.Pattern, placeholderVars(s.Pattern), true)); err != nil {
			return fmt.Errorf("pattern %q: %w", s.Pattern, err)
		}
	}
	return nil
}

// Table: роль -> стратегии, от самой точной.
type Table map[Role][]Strategy

func (t Table) Validate() error {
	for role, strategies := range t {
		if len(strategies) == 0 {
			return fmt.Errorf("role %s: no strategies", role)
		}
		for i, s := range strategies {
			if err := s.Validate(); err != nil {
				return fmt.Errorf("role %s strategy %d: %w", role, i, err)
			}
		}
	}
	return nil
}

var placeholderRe = regexp.MustCompile(`\{([a-zA-Z]\w*)\}`)

func placeholderVars(s string) map[string]string {
	vars := make(map[string]string)
	for _, m := range placeholderRe.FindAllStringSubmatch(s, -1) {
		vars[m[1]] = "x"
	}
	return vars
}

func expand(s string, vars map[string]string, quote bool) string {
	if len(vars) == 0 || !strings.Contains(s, "{") {
		return s
	}
	return placeholderRe.ReplaceAllStringFunc(s, func(m string) string {
		v, ok := vars[m[1:len(m)-1]]
		if !ok {
			return m
		}
		if quote {
			return regexp.QuoteMeta(v)
		}
		return v
	})
}
