// Package extract достаёт список коллекций из разметки панели.
package extract

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/fffoivos/Amazon-lists/dom"
)

// Record - одна коллекция в панели. ID назначает хост, пустым он не бывает.
type Record struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Privacy string `json:"privacyLabel"`
}

// Config описывает, где в панели лежат записи. В шаблонах подстановка {id}.
type Config struct {
	NameSelector      string `yaml:"nameSelector"`
	NameIDPrefix      string `yaml:"nameIdPrefix"`
	LinkIDTemplate    string `yaml:"linkIdTemplate"`
	PrivacyIDTemplate string `yaml:"privacyIdTemplate"`

	ItemSelector        string `yaml:"itemSelector"`
	ItemLinkSelector    string `yaml:"itemLinkSelector"`
	ItemLinkPrefix      string `yaml:"itemLinkPrefix"`
	ItemNameSelector    string `yaml:"itemNameSelector"`
	ItemPrivacySelector string `yaml:"itemPrivacySelector"`

	// Sentinels - подписи служебных пунктов вроде "Create a List".
	Sentinels []string `yaml:"sentinels"`
}

func (c Config) Validate() error {
	if c.NameSelector == "" || c.NameIDPrefix == "" {
		return fmt.Errorf("extraction: nameSelector and nameIdPrefix are required")
	}
	if c.ItemSelector != "" && (c.ItemLinkSelector == "" || c.ItemLinkPrefix == "") {
		return fmt.Errorf("extraction: itemSelector needs itemLinkSelector and itemLinkPrefix")
	}
	return nil
}

// LinkID - id кликабельного пункта коллекции.
func (c Config) LinkID(id string) string {
	return strings.ReplaceAll(c.LinkIDTemplate, "{id}", id)
}

type Engine struct {
	cfg Config
}

func New(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Extract разбирает разметку панели и возвращает записи в порядке DOM.
func (e *Engine) Extract(markup string) ([]Record, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("parse overlay: %w", err)
	}
	return e.FromSelection(doc.Selection), nil
}

// FromSelection: основная стратегия, а если пусто - обход пунктов списка.
func (e *Engine) FromSelection(root *goquery.Selection) []Record {
	if recs := e.primary(root); len(recs) > 0 {
		return recs
	}
	if e.cfg.ItemSelector == "" {
		return nil
	}
	return e.fallback(root)
}

// IsSentinel: name - подпись служебного пункта, а не коллекции.
func (e *Engine) IsSentinel(name string) bool {
	name = dom.NormalizeText(name)
	for _, s := range e.cfg.Sentinels {
		if strings.EqualFold(name, s) {
			return true
		}
	}
	return false
}

func (e *Engine) primary(root *goquery.Selection) []Record {
	var recs []Record
	seen := make(map[string]bool)

	root.Find(e.cfg.NameSelector).Each(func(_ int, s *goquery.Selection) {
		nodeID, _ := s.Attr("id")
		if !strings.HasPrefix(nodeID, e.cfg.NameIDPrefix) {
			return
		}
		id := strings.TrimSpace(strings.TrimPrefix(nodeID, e.cfg.NameIDPrefix))
		if id == "" || seen[id] {
			return
		}

		name := dom.NormalizeText(s.Text())
		if name == "" && e.cfg.LinkIDTemplate != "" {
			name = dom.NormalizeText(byID(root, e.cfg.LinkID(id)).Text())
		}
		if name == "" || e.IsSentinel(name) {
			return
		}

		var privacy string
		if e.cfg.PrivacyIDTemplate != "" {
			privacy = dom.NormalizeText(byID(root, strings.ReplaceAll(e.cfg.PrivacyIDTemplate, "{id}", id)).Text())
		}

		seen[id] = true
		recs = append(recs, Record{ID: id, Name: name, Privacy: privacy})
	})
	return recs
}

func (e *Engine) fallback(root *goquery.Selection) []Record {
	var recs []Record
	seen := make(map[string]bool)

	root.Find(e.cfg.ItemSelector).Each(func(_ int, item *goquery.Selection) {
		link := item.Find(e.cfg.ItemLinkSelector).First()
		linkID, _ := link.Attr("id")
		i := strings.Index(linkID, e.cfg.ItemLinkPrefix)
		if i < 0 {
			return
		}
		id := strings.TrimSpace(linkID[i+len(e.cfg.ItemLinkPrefix):])
		if id == "" || seen[id] {
			return
		}

		var name, privacy string
		if e.cfg.ItemNameSelector != "" {
			name = dom.NormalizeText(item.Find(e.cfg.ItemNameSelector).First().Text())
		}
		if name == "" {
			name = dom.NormalizeText(link.Text())
		}
		if e.cfg.ItemPrivacySelector != "" {
			privacy = dom.NormalizeText(item.Find(e.cfg.ItemPrivacySelector).First().Text())
		}
		if name == "" || e.IsSentinel(name) {
			return
		}

		seen[id] = true
		recs = append(recs, Record{ID: id, Name: name, Privacy: privacy})
	})
	return recs
}

func byID(root *goquery.Selection, id string) *goquery.Selection {
	return root.Find(`[id="` + strings.ReplaceAll(id, `"`, `\"`) + `"]`).First()
}
