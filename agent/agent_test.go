package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fffoivos/Amazon-lists/confirm"
	"github.com/fffoivos/Amazon-lists/dom/domtest"
	"github.com/fffoivos/Amazon-lists/events"
	"github.com/fffoivos/Amazon-lists/extract"
	"github.com/fffoivos/Amazon-lists/filter"
	"github.com/fffoivos/Amazon-lists/gesture"
	"github.com/fffoivos/Amazon-lists/item"
	"github.com/fffoivos/Amazon-lists/locator"
	"github.com/fffoivos/Amazon-lists/overlay"
	"github.com/fffoivos/Amazon-lists/profile"
	"github.com/fffoivos/Amazon-lists/settings"
)

const (
	itemURL  = "https://www.amazon.test/Blue-Kettle/dp/B0KETTLE01"
	otherURL = "https://www.amazon.test/Red-Mug/dp/B0OTHER001"

	productMarkup = `<div id="dp">
  <span id="productTitle">Blue Kettle</span>
  <span class="a-price"><span class="a-offscreen">$19.99</span></span>
  <input type="hidden" id="ASIN" value="B0KETTLE01">
  <span id="add-to-wishlist-button">Add to List</span>
</div>`

	cartNotice = `<div aria-live="polite" style="display:none">Added to Cart</div>`

	createModal = `<div id="wl-redesigned-create-list">
  <input type="text" id="list-name" value="">
  <input type="submit" id="create-btn" value="Create List">
</div>`
)

var birthday = extract.Record{ID: "42", Name: "Birthday", Privacy: "Private"}

var testOptions = Options{
	MaxAttempts:    4,
	RetryDelay:     5 * time.Millisecond,
	LocateTimeout:  100 * time.Millisecond,
	ConfirmTimeout: 100 * time.Millisecond,
	CreateTimeout:  500 * time.Millisecond,
	ValueAttempts:  3,
	ValueDelay:     5 * time.Millisecond,
}

// host изображает страницу товара Amazon.
type host struct {
	page *domtest.Page

	lists     []extract.Record
	perClick  func(click int) []extract.Record
	never     bool // кнопка ничего не делает
	confirm   bool // клик по ссылке показывает заголовок статуса
	notice    bool // клик по ссылке добавляет скрытое уведомление корзины
	rejects   int  // сколько вводов имени хост сотрёт
	onDismiss func(p *domtest.Page)

	triggerClicks int
	created       int
}

func newHost() *host {
	h := &host{lists: []extract.Record{birthday}, confirm: true}
	h.page = domtest.New(productMarkup, domtest.WithURL(itemURL))
	h.registerHandlers()
	return h
}

func (h *host) registerHandlers() {
	h.page.On("#add-to-wishlist-button", "click", h.onTrigger)
	h.page.On("body", "keydown", h.onEscape)
	h.page.On("a[id^='atwl-link-to-list-']", "click", h.onLink)
	h.page.On("#atwl-dd-create-list", "click", h.onCreate)
	h.page.On("#list-name", "input", h.onNameInput)
	h.page.On("#create-btn", "click", h.onSubmit)
}

func renderPanel(lists []extract.Record) string {
	var b strings.Builder
	b.WriteString(`<div id="atwl-popover-inner"><input id="atwl-dd-search-input" value="">`)
	for _, r := range lists {
		fmt.Fprintf(&b, `<a id="atwl-link-to-list-%s"><span id="atwl-list-name-%s">%s</span></a><span id="atwl-list-privacy-%s">%s</span>`,
			r.ID, r.ID, r.Name, r.ID, r.Privacy)
	}
	b.WriteString(`<a id="atwl-dd-create-list">Create a List</a></div>`)
	return b.String()
}

func (h *host) onTrigger(p *domtest.Page) {
	h.triggerClicks++
	if h.never {
		return
	}
	lists := h.lists
	if h.perClick != nil {
		lists = h.perClick(h.triggerClicks)
	}
	p.Mutate(func(doc *goquery.Document) {
		if doc.Find("#atwl-popover-inner").Length() == 0 {
			doc.Find("body").AppendHtml(renderPanel(lists))
		}
	})
}

func (h *host) onEscape(p *domtest.Page) {
	p.Mutate(func(doc *goquery.Document) { doc.Find("#atwl-popover-inner").Remove() })
	if h.onDismiss != nil {
		h.onDismiss(p)
	}
}

// onLink перерисовывает заголовок статуса, как это делает хост.
func (h *host) onLink(p *domtest.Page) {
	if h.notice {
		p.Mutate(func(doc *goquery.Document) { doc.Find("body").AppendHtml(cartNotice) })
	}
	if !h.confirm {
		return
	}
	p.Mutate(func(doc *goquery.Document) {
		doc.Find("#huc-atwl-header-section").Remove()
		doc.Find("body").AppendHtml(`<div id="huc-atwl-header-section">1 item added to Birthday</div>`)
	})
}

func (h *host) onCreate(p *domtest.Page) {
	p.Mutate(func(doc *goquery.Document) { doc.Find("body").AppendHtml(createModal) })
}

func (h *host) onNameInput(p *domtest.Page) {
	if h.rejects == 0 {
		return
	}
	h.rejects--
	p.Mutate(func(doc *goquery.Document) { doc.Find("#list-name").SetAttr("value", "") })
}

func (h *host) onSubmit(p *domtest.Page) {
	p.Mutate(func(doc *goquery.Document) {
		name := doc.Find("#list-name").AttrOr("value", "")
		h.created++
		h.lists = append(h.lists, extract.Record{ID: fmt.Sprintf("new%d", h.created), Name: name, Privacy: "Private"})
		doc.Find("#wl-redesigned-create-list").Remove()
	})
}

type recorder struct {
	mu  sync.Mutex
	evs []events.Event
}

func (r *recorder) Emit(_ context.Context, ev events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evs = append(r.evs, ev)
}

func (r *recorder) all() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Event(nil), r.evs...)
}

func (r *recorder) types() []events.Type {
	var out []events.Type
	for _, ev := range r.all() {
		out = append(out, ev.Type)
	}
	return out
}

type rig struct {
	*host
	ctl     *Controller
	rec     *recorder
	metrics *Metrics
}

func newRig(t *testing.T, h *host, prefs settings.Provider) *rig {
	t.Helper()
	prof := profile.Default()
	p := h.page
	loc := locator.New(p, prof.Roles, locator.WithPollInterval(5*time.Millisecond))
	gest := gesture.New(p, nil)
	opener := overlay.New(overlay.Deps{
		Page:     p,
		Locator:  loc,
		Gestures: gest,
		Engine:   extract.New(prof.Extraction),
		Filter:   filter.New(p, prof.FilterKey),
		Settings: prefs,
	}, overlay.Options{MaxClicks: 3, ClickPause: 2 * time.Millisecond, PollTimeout: 40 * time.Millisecond, Timeout: time.Second})
	det, err := confirm.New(p, loc, prof.Confirmation, nil)
	require.NoError(t, err)
	items, err := item.NewReader(p, loc, prof.Item)
	require.NoError(t, err)

	rec := &recorder{}
	m := MustNewMetrics(prometheus.NewRegistry())
	ctl := New(Deps{
		Page:     p,
		Locator:  loc,
		Gestures: gest,
		Opener:   opener,
		Confirm:  det,
		Items:    items,
		Settings: prefs,
		Events:   rec,
		Metrics:  m,
	}, testOptions)
	return &rig{host: h, ctl: ctl, rec: rec, metrics: m}
}

func TestRequestCollections(t *testing.T) {
	r := newRig(t, newHost(), nil)

	res := r.ctl.RequestCollections(context.Background())
	require.True(t, res.Success, res.Error)
	require.NotNil(t, res.ListCount)
	assert.Equal(t, 1, *res.ListCount)

	assert.Equal(t, []events.Type{events.ItemContextChanged, events.CollectionsUpdated}, r.rec.types())
	evs := r.rec.all()
	assert.Equal(t, "B0KETTLE01", evs[1].Item.Identifier)
	assert.Equal(t, "Blue Kettle", evs[1].Item.Title)
	assert.Equal(t, []extract.Record{birthday}, evs[1].Records)

	s := r.ctl.Session()
	assert.Equal(t, Idle, s.State)
	assert.Equal(t, []extract.Record{birthday}, s.Records)
}

func TestRequestCollectionsNotOnItemPage(t *testing.T) {
	h := newHost()
	h.page = domtest.New(`<h1>Your Orders</h1>`, domtest.WithURL("https://www.amazon.test/gp/css/order-history"))
	r := newRig(t, h, nil)

	res := r.ctl.RequestCollections(context.Background())
	assert.False(t, res.Success)
	assert.Equal(t, ReasonNotOnTargetPage, res.Error)
	assert.Empty(t, h.page.Events())
}

func TestAddOverlayNeverOpens(t *testing.T) {
	h := newHost()
	h.never = true
	r := newRig(t, h, nil)

	res := r.ctl.AddToCollection(context.Background(), "42")
	assert.False(t, res.Success)
	assert.Equal(t, ReasonOverlayOpenTimeout, res.Error)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, 3, h.triggerClicks)
	assert.Equal(t, Failed, r.ctl.Session().State)
}

func TestAddSucceeds(t *testing.T) {
	h := newHost()
	r := newRig(t, h, nil)

	res := r.ctl.AddToCollection(context.Background(), "42")
	require.True(t, res.Success, res.Error)
	assert.Equal(t, 1, res.Attempts)
	assert.NotEmpty(t, res.Pattern)
	assert.Equal(t, 1, h.page.Count("atwl-link-to-list-42", "click"))
	assert.Equal(t, 1, h.triggerClicks)

	s := r.ctl.Session()
	assert.Equal(t, Succeeded, s.State)
	assert.Equal(t, []extract.Record{birthday}, s.Records)
	assert.Equal(t, 1.0, testutil.ToFloat64(r.metrics.operations.WithLabelValues("addToCollection", "success")))
}

func TestAddTargetAppearsAfterReopen(t *testing.T) {
	h := newHost()
	shopping := extract.Record{ID: "7", Name: "Shopping"}
	h.perClick = func(click int) []extract.Record {
		if click == 1 {
			return []extract.Record{shopping}
		}
		return []extract.Record{shopping, birthday}
	}
	r := newRig(t, h, nil)

	res := r.ctl.AddToCollection(context.Background(), "42")
	require.True(t, res.Success, res.Error)
	assert.Equal(t, 2, res.Attempts)
	assert.LessOrEqual(t, res.Attempts, testOptions.MaxAttempts)
	assert.Equal(t, 2, h.triggerClicks)
	assert.Equal(t, 1.0, testutil.ToFloat64(r.metrics.retries.WithLabelValues("addToCollection", ReasonTargetNotFound)))
}

func TestAddAbortsOnNavigation(t *testing.T) {
	h := newHost()
	h.lists = []extract.Record{{ID: "7", Name: "Shopping"}}
	h.onDismiss = func(p *domtest.Page) { p.SetURL(otherURL) }
	r := newRig(t, h, nil)

	res := r.ctl.AddToCollection(context.Background(), "42")
	assert.False(t, res.Success)
	assert.Equal(t, ReasonNavigation, res.Error)
	assert.Equal(t, 2, res.Attempts)
	assert.Less(t, res.Attempts, testOptions.MaxAttempts)
	assert.Equal(t, 1, h.triggerClicks, "no trigger click on the new item's page")
	assert.Zero(t, h.page.Count("atwl-link-to-list-7", "click"))
}

func TestAddAbortsWhenItemChangesAfterExtraction(t *testing.T) {
	h := newHost()
	h.perClick = func(int) []extract.Record {
		h.page.SetURL(otherURL)
		return []extract.Record{birthday}
	}
	r := newRig(t, h, nil)

	res := r.ctl.AddToCollection(context.Background(), "42")
	assert.Equal(t, ReasonNavigation, res.Error)
	assert.Equal(t, 1, res.Attempts)
	assert.Zero(t, h.page.Count("atwl-link-to-list-42", "click"))
}

func TestAddConfirmationTimeout(t *testing.T) {
	h := newHost()
	h.confirm = false
	r := newRig(t, h, nil)
	r.ctl.opts.MaxAttempts = 2

	res := r.ctl.AddToCollection(context.Background(), "42")
	assert.False(t, res.Success)
	assert.Equal(t, ReasonConfirmationTimeout, res.Error)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, 2, h.page.Count("atwl-link-to-list-42", "click"))
}

func TestAddIgnoresHeaderFromPreviousAdd(t *testing.T) {
	h := newHost()
	h.lists = []extract.Record{birthday, {ID: "7", Name: "Shopping"}}
	r := newRig(t, h, nil)
	ctx := context.Background()

	require.True(t, r.ctl.AddToCollection(ctx, "42").Success)

	h.confirm = false
	r.ctl.opts.MaxAttempts = 2
	res := r.ctl.AddToCollection(ctx, "7")
	assert.False(t, res.Success)
	assert.Equal(t, ReasonConfirmationTimeout, res.Error)
	assert.Equal(t, 2, h.page.Count("atwl-link-to-list-7", "click"))
}

func TestAddRepeatedSameListReconfirms(t *testing.T) {
	r := newRig(t, newHost(), nil)
	ctx := context.Background()

	require.True(t, r.ctl.AddToCollection(ctx, "42").Success)
	res := r.ctl.AddToCollection(ctx, "42")
	require.True(t, res.Success, res.Error)
	assert.Equal(t, 1, res.Attempts)
}

func TestAddIgnoresHiddenCartNotice(t *testing.T) {
	h := newHost()
	h.page = domtest.New(productMarkup+cartNotice, domtest.WithURL(itemURL))
	h.registerHandlers()
	h.confirm = false
	h.notice = true
	r := newRig(t, h, nil)
	r.ctl.opts.MaxAttempts = 1

	res := r.ctl.AddToCollection(context.Background(), "42")
	assert.False(t, res.Success)
	assert.Equal(t, ReasonConfirmationTimeout, res.Error)
	assert.Equal(t, 1, h.page.Count("atwl-link-to-list-42", "click"))
}

func TestAddTriggerNotFound(t *testing.T) {
	h := newHost()
	h.page = domtest.New(`<input type="hidden" id="ASIN" value="B0KETTLE01">`, domtest.WithURL(itemURL))
	r := newRig(t, h, nil)

	res := r.ctl.AddToCollection(context.Background(), "42")
	assert.Equal(t, ReasonTriggerNotFound, res.Error)
	assert.Equal(t, 1, res.Attempts)
}

func TestAddEmptyID(t *testing.T) {
	r := newRig(t, newHost(), nil)
	res := r.ctl.AddToCollection(context.Background(), " ")
	assert.Equal(t, ReasonTargetNotFound, res.Error)
}

func TestFilterAfterAdd(t *testing.T) {
	ctx := context.Background()

	h := newHost()
	require.NoError(t, h.page.SetItem(ctx, profile.Default().FilterKey, "birth"))
	r := newRig(t, h, settings.NewStatic(map[string]bool{settings.KeyPersistFilter: true}))
	require.True(t, r.ctl.AddToCollection(ctx, "42").Success)
	v, ok, err := h.page.GetItem(ctx, profile.Default().FilterKey)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "birth", v)

	h = newHost()
	require.NoError(t, h.page.SetItem(ctx, profile.Default().FilterKey, "birth"))
	r = newRig(t, h, settings.NewStatic(nil))
	require.True(t, r.ctl.AddToCollection(ctx, "42").Success)
	_, ok, err = h.page.GetItem(ctx, profile.Default().FilterKey)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTurningPersistenceOffClearsSavedFilter(t *testing.T) {
	ctx := context.Background()
	key := profile.Default().FilterKey

	h := newHost()
	require.NoError(t, h.page.SetItem(ctx, key, "birth"))
	prefs := settings.NewStatic(map[string]bool{settings.KeyPersistFilter: true})
	newRig(t, h, prefs)

	prefs.Set(settings.KeyPersistFilter, true)
	_, ok, err := h.page.GetItem(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok, "unchanged value is not a change")

	prefs.Set(settings.KeyPersistFilter, false)
	_, ok, err = h.page.GetItem(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, h.page.Events(), "no gestures without an open panel")
}

func TestConcurrentAddsAreSerialised(t *testing.T) {
	h := newHost()
	h.lists = []extract.Record{birthday, {ID: "7", Name: "Shopping"}}
	r := newRig(t, h, nil)

	var wg sync.WaitGroup
	results := make([]Result, 2)
	for i, id := range []string{"42", "7"} {
		i, id := i, id
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = r.ctl.AddToCollection(context.Background(), id)
		}()
	}
	wg.Wait()

	for _, res := range results {
		assert.True(t, res.Success, res.Error)
	}
	assert.Equal(t, 1, h.triggerClicks, "second add reuses the open panel")
}

func TestCreateCollection(t *testing.T) {
	h := newHost()
	h.rejects = 1
	r := newRig(t, h, nil)

	res := r.ctl.CreateCollection(context.Background(), "  Holidays ")
	require.True(t, res.Success, res.Error)
	require.NotNil(t, res.ListCount)
	assert.Equal(t, 2, *res.ListCount)
	assert.Equal(t, 1, h.page.Count("create-btn", "click"))
	assert.Equal(t, 1, h.created)
	assert.Equal(t, "Holidays", h.lists[1].Name)

	recs := r.ctl.Session().Records
	require.Len(t, recs, 2)
	assert.Equal(t, "Holidays", recs[1].Name)
	assert.Equal(t, events.CollectionsUpdated, r.rec.types()[len(r.rec.types())-1])
}

func TestCreateCollectionNameNeverSticks(t *testing.T) {
	h := newHost()
	h.rejects = 10
	r := newRig(t, h, nil)

	res := r.ctl.CreateCollection(context.Background(), "Holidays")
	assert.Equal(t, ReasonNameNotAccepted, res.Error)
	assert.Zero(t, h.page.Count("create-btn", "click"))
}

func TestCreateCollectionEmptyName(t *testing.T) {
	r := newRig(t, newHost(), nil)
	assert.Equal(t, ReasonNameNotAccepted, r.ctl.CreateCollection(context.Background(), "").Error)
}

func TestReasonMapping(t *testing.T) {
	assert.Equal(t, ReasonTriggerNotFound, reason(fmt.Errorf("open: %w", overlay.ErrTriggerNotFound)))
	assert.Equal(t, ReasonLocateTimeout, reason(fmt.Errorf("%w: x", locator.ErrLocateTimeout)))
	assert.Equal(t, ReasonCanceled, reason(context.Canceled))
	assert.Equal(t, ReasonInternal, reason(fmt.Errorf("boom")))

	assert.False(t, retryable(ErrNavigation, 1))
	assert.False(t, retryable(overlay.ErrOverlayOpenTimeout, 1))
	assert.True(t, retryable(ErrTargetNotFound, 1))
	assert.True(t, retryable(ErrConfirmationTimeout, 1))
}
