package agent

import (
	"context"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fffoivos/Amazon-lists/events"
	"github.com/fffoivos/Amazon-lists/extract"
)

func TestRefreshPublishesOnlyChanges(t *testing.T) {
	h := newHost()
	h.page.Mutate(func(doc *goquery.Document) { doc.Find("body").AppendHtml(renderPanel(h.lists)) })
	r := newRig(t, h, nil)
	ctx := context.Background()

	require.True(t, r.ctl.Refresh(ctx))
	assert.Equal(t, []events.Type{events.ItemContextChanged, events.CollectionsUpdated}, r.rec.types())

	require.True(t, r.ctl.Refresh(ctx))
	assert.Len(t, r.rec.types(), 2, "nothing changed")

	h.page.Mutate(func(doc *goquery.Document) {
		doc.Find("#atwl-popover-inner").PrependHtml(`<a id="atwl-link-to-list-9"><span id="atwl-list-name-9">Books</span></a>`)
	})
	require.True(t, r.ctl.Refresh(ctx))
	evs := r.rec.all()
	require.Len(t, evs, 3)
	assert.Equal(t, events.CollectionsUpdated, evs[2].Type)
	assert.Equal(t, []extract.Record{{ID: "9", Name: "Books"}, birthday}, evs[2].Records)
	assert.Zero(t, h.triggerClicks)
}

func TestRefreshSkipsWhileOperationRuns(t *testing.T) {
	r := newRig(t, newHost(), nil)
	r.ctl.mu.Lock()
	defer r.ctl.mu.Unlock()
	assert.False(t, r.ctl.Refresh(context.Background()))
}

func TestWatchFollowsNavigation(t *testing.T) {
	h := newHost()
	r := newRig(t, h, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.ctl.Watch(ctx, WatchOptions{Interval: 10 * time.Millisecond, Debounce: 5 * time.Millisecond}) }()

	require.Eventually(t, func() bool {
		return r.ctl.Session().Item.Identifier == "B0KETTLE01"
	}, 2*time.Second, 10*time.Millisecond)

	h.page.SetURL(otherURL)
	require.Eventually(t, func() bool {
		return r.ctl.Session().Item.Identifier == "B0OTHER001"
	}, 2*time.Second, 10*time.Millisecond)

	var changed []string
	for _, ev := range r.rec.all() {
		if ev.Type == events.ItemContextChanged {
			changed = append(changed, ev.Item.Identifier)
		}
	}
	assert.Equal(t, []string{"B0KETTLE01", "B0OTHER001"}, changed)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, 0, h.page.Watchers())
}
