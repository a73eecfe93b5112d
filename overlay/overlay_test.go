package overlay

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fffoivos/Amazon-lists/dom/domtest"
	"github.com/fffoivos/Amazon-lists/extract"
	"github.com/fffoivos/Amazon-lists/filter"
	"github.com/fffoivos/Amazon-lists/gesture"
	"github.com/fffoivos/Amazon-lists/locator"
	"github.com/fffoivos/Amazon-lists/profile"
	"github.com/fffoivos/Amazon-lists/settings"
)

const panelMarkup = `<div id="atwl-popover-inner">
  <input id="atwl-dd-search-input" value="">
  <a id="atwl-link-to-list-42"><span id="atwl-list-name-42">Birthday</span></a>
  <span id="atwl-list-privacy-42">Private</span>
  <a id="atwl-dd-create-list">Create a List</a>
</div>`

var testOptions = Options{
	MaxClicks:   3,
	ClickPause:  5 * time.Millisecond,
	PollTimeout: 60 * time.Millisecond,
	Timeout:     2 * time.Second,
}

// newPage: страница товара, кнопка которой показывает панель начиная с клика
// openOn (0 - никогда). Escape убирает панель.
func newPage(openOn int) *domtest.Page {
	p := domtest.New(`<div id="dp"><span id="add-to-wishlist-button">Add to List</span></div>`)
	clicks := 0
	p.On("#add-to-wishlist-button", "click", func(p *domtest.Page) {
		clicks++
		if openOn == 0 || clicks < openOn {
			return
		}
		p.Mutate(func(doc *goquery.Document) {
			if doc.Find("#atwl-popover-inner").Length() == 0 {
				doc.Find("body").AppendHtml(panelMarkup)
			}
		})
	})
	p.On("body", "keydown", func(p *domtest.Page) {
		p.Mutate(func(doc *goquery.Document) { doc.Find("#atwl-popover-inner").Remove() })
	})
	return p
}

func newOpener(p *domtest.Page, prefs settings.Provider) *Opener {
	prof := profile.Default()
	return New(Deps{
		Page:     p,
		Locator:  locator.New(p, prof.Roles, locator.WithPollInterval(5*time.Millisecond)),
		Gestures: gesture.New(p, nil),
		Engine:   extract.New(prof.Extraction),
		Filter:   filter.New(p, ""),
		Settings: prefs,
	}, testOptions)
}

func triggerClicks(p *domtest.Page) int {
	return p.Count("add-to-wishlist-button", "click")
}

func searchValue(t *testing.T, p *domtest.Page) string {
	t.Helper()
	els, err := p.Find(context.Background(), "", "#atwl-dd-search-input")
	require.NoError(t, err)
	require.NotEmpty(t, els)
	return els[0].Attr("value")
}

func TestOpenExtractsRecords(t *testing.T) {
	p := newPage(1)
	h, err := newOpener(p, nil).Open(context.Background(), false, nil)
	require.NoError(t, err)

	assert.Equal(t, []extract.Record{{ID: "42", Name: "Birthday", Privacy: "Private"}}, h.Records)
	assert.True(t, h.Visible(context.Background()))
	assert.Equal(t, 1, triggerClicks(p))
}

func TestOpenIsIdempotent(t *testing.T) {
	p := newPage(1)
	o := newOpener(p, nil)
	ctx := context.Background()

	first, err := o.Open(ctx, false, nil)
	require.NoError(t, err)
	second, err := o.Open(ctx, false, nil)
	require.NoError(t, err)

	assert.Equal(t, first.Ref, second.Ref)
	assert.Equal(t, 1, triggerClicks(p))
}

func TestOpenRepeatsClicks(t *testing.T) {
	p := newPage(2)
	_, err := newOpener(p, nil).Open(context.Background(), false, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, triggerClicks(p))
}

func TestOpenTimeout(t *testing.T) {
	p := newPage(0)
	_, err := newOpener(p, nil).Open(context.Background(), false, nil)
	assert.ErrorIs(t, err, ErrOverlayOpenTimeout)
	assert.Equal(t, testOptions.MaxClicks, triggerClicks(p))
}

func TestTriggerNotFound(t *testing.T) {
	p := domtest.New(`<div id="search-results"></div>`)
	_, err := newOpener(p, nil).Open(context.Background(), false, nil)
	assert.ErrorIs(t, err, ErrTriggerNotFound)
	assert.Empty(t, p.Events())
}

func TestForceReopen(t *testing.T) {
	p := newPage(1)
	o := newOpener(p, nil)
	ctx := context.Background()

	first, err := o.Open(ctx, false, nil)
	require.NoError(t, err)
	second, err := o.Open(ctx, true, nil)
	require.NoError(t, err)

	assert.NotEqual(t, first.Ref, second.Ref)
	assert.False(t, first.Visible(ctx))
	assert.Equal(t, 2, triggerClicks(p))
	assert.Len(t, second.Records, 1)
}

func TestForceReopenStopsWhenGuardFails(t *testing.T) {
	p := newPage(1)
	o := newOpener(p, nil)
	ctx := context.Background()

	_, err := o.Open(ctx, false, nil)
	require.NoError(t, err)

	left := errors.New("item changed")
	dismissed := false
	guard := func(context.Context) error {
		if dismissed {
			return left
		}
		return nil
	}
	p.On("body", "keydown", func(*domtest.Page) { dismissed = true })

	_, err = o.Open(ctx, true, guard)
	assert.ErrorIs(t, err, left)
	assert.Equal(t, 1, triggerClicks(p), "no click on the new page")
}

func TestGuardCheckedBeforeEveryClick(t *testing.T) {
	p := newPage(0)
	o := newOpener(p, nil)

	calls := 0
	left := errors.New("item changed")
	_, err := o.Open(context.Background(), false, func(context.Context) error {
		calls++
		if calls == 2 {
			return left
		}
		return nil
	})
	assert.ErrorIs(t, err, left)
	assert.Equal(t, 1, triggerClicks(p))
}

func TestFilterRestoredWhenPersisting(t *testing.T) {
	ctx := context.Background()
	p := newPage(1)
	require.NoError(t, p.SetItem(ctx, filter.DefaultKey, "birth"))

	_, err := newOpener(p, settings.NewStatic(map[string]bool{settings.KeyPersistFilter: true})).Open(ctx, false, nil)
	require.NoError(t, err)
	assert.Equal(t, "birth", searchValue(t, p))
}

func TestFilterClearedWithoutPersist(t *testing.T) {
	ctx := context.Background()
	p := newPage(1)
	require.NoError(t, p.SetItem(ctx, filter.DefaultKey, "birth"))

	_, err := newOpener(p, settings.NewStatic(nil)).Open(ctx, false, nil)
	require.NoError(t, err)
	assert.Empty(t, searchValue(t, p))

	_, ok, err := p.GetItem(ctx, filter.DefaultKey)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSaveAndClearFilter(t *testing.T) {
	ctx := context.Background()
	p := newPage(1)
	o := newOpener(p, settings.NewStatic(map[string]bool{settings.KeyPersistFilter: true}))

	h, err := o.Open(ctx, false, nil)
	require.NoError(t, err)
	field, err := p.Find(ctx, h.Ref, "#atwl-dd-search-input")
	require.NoError(t, err)
	require.NoError(t, p.SetValue(ctx, field[0].Ref, "bir"))

	require.NoError(t, o.SaveFilter(ctx, h))
	v, _, _ := p.GetItem(ctx, filter.DefaultKey)
	assert.Equal(t, "bir", v)

	require.NoError(t, o.ClearFilter(ctx))
	assert.Empty(t, searchValue(t, p))
	_, ok, _ := p.GetItem(ctx, filter.DefaultKey)
	assert.False(t, ok)
}

func TestSnapshotNeverClicks(t *testing.T) {
	ctx := context.Background()
	p := newPage(1)
	o := newOpener(p, nil)

	_, open, err := o.Snapshot(ctx)
	require.NoError(t, err)
	assert.False(t, open)

	_, err = o.Open(ctx, false, nil)
	require.NoError(t, err)
	recs, open, err := o.Snapshot(ctx)
	require.NoError(t, err)
	assert.True(t, open)
	assert.Len(t, recs, 1)
	assert.Equal(t, 1, triggerClicks(p))
}
