package confirm

import (
	"context"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fffoivos/Amazon-lists/dom/domtest"
	"github.com/fffoivos/Amazon-lists/locator"
)

var testConfig = Config{
	HeaderPattern:     `(?i)(added to|moved to|already (in|on))`,
	LiveRegions:       []string{"[role='alert']"},
	LiveRegionPattern: `(?i)(added to|moved to|already in|view your list)`,
}

var testTable = locator.Table{
	locator.StatusHeader: {{Kind: locator.KindSelector, Selector: "#status"}},
}

func newDetector(t *testing.T, p *domtest.Page) *Detector {
	t.Helper()
	d, err := New(p, locator.New(p, testTable, locator.WithPollInterval(10*time.Millisecond)), testConfig, nil)
	require.NoError(t, err)
	return d
}

func overlayRef(t *testing.T, p *domtest.Page) string {
	t.Helper()
	els, err := p.Find(context.Background(), "", "#panel")
	require.NoError(t, err)
	require.NotEmpty(t, els)
	return els[0].Ref
}

func TestAwaitImmediateHeader(t *testing.T) {
	p := domtest.New(`<div id="status">1 item added to Birthday</div><div id="panel"></div>`)
	out := newDetector(t, p).Await(context.Background(), overlayRef(t, p), Baseline{}, time.Second)
	assert.True(t, out.Success)
	assert.Equal(t, SourceHeader, out.Source)
	assert.Equal(t, 0, p.Watchers())
}

func TestAwaitTextAppearsLater(t *testing.T) {
	p := domtest.New(`<div id="panel">Birthday</div><div id="status"></div>`)
	d := newDetector(t, p)
	ref := overlayRef(t, p)

	go func() {
		time.Sleep(30 * time.Millisecond)
		p.Mutate(func(doc *goquery.Document) {
			doc.Find("body").AppendHtml(`<div role="alert">Moved to Birthday</div>`)
		})
	}()

	start := time.Now()
	out := d.Await(context.Background(), ref, d.Baseline(context.Background(), ref), 2*time.Second)
	assert.True(t, out.Success)
	assert.Equal(t, "[role='alert']", out.Source)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 0, p.Watchers())
}

func TestAwaitOverlayText(t *testing.T) {
	p := domtest.New(`<div id="panel"><span>View your list</span></div>`)
	out := newDetector(t, p).Await(context.Background(), overlayRef(t, p), Baseline{}, time.Second)
	assert.True(t, out.Success)
	assert.Equal(t, SourceOverlay, out.Source)
}

func TestAwaitTimeout(t *testing.T) {
	p := domtest.New(`<div id="panel">Birthday</div><div id="status">Add to list</div>`)
	start := time.Now()
	out := newDetector(t, p).Await(context.Background(), overlayRef(t, p), Baseline{}, 80*time.Millisecond)
	assert.False(t, out.Success)
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
	assert.Equal(t, 0, p.Watchers())
}

func TestAwaitIgnoresTextFromEarlierAdd(t *testing.T) {
	ctx := context.Background()
	p := domtest.New(`<div id="status">1 item added to Birthday</div><div id="panel">Birthday</div>`)
	d := newDetector(t, p)
	ref := overlayRef(t, p)

	out := d.Await(ctx, ref, d.Baseline(ctx, ref), 80*time.Millisecond)
	assert.False(t, out.Success, "header left by the previous add")

	// Хост перерисовывает заголовок с тем же текстом: это новый элемент.
	base := d.Baseline(ctx, ref)
	go func() {
		time.Sleep(20 * time.Millisecond)
		p.Mutate(func(doc *goquery.Document) {
			doc.Find("#status").Remove()
			doc.Find("body").AppendHtml(`<div id="status">1 item added to Birthday</div>`)
		})
	}()
	out = d.Await(ctx, ref, base, time.Second)
	assert.True(t, out.Success)
	assert.Equal(t, SourceHeader, out.Source)
}

func TestAwaitAcceptsChangedText(t *testing.T) {
	ctx := context.Background()
	p := domtest.New(`<div id="status">1 item added to Birthday</div><div id="panel">Birthday</div>`)
	d := newDetector(t, p)
	ref := overlayRef(t, p)
	base := d.Baseline(ctx, ref)

	go func() {
		time.Sleep(20 * time.Millisecond)
		p.Mutate(func(doc *goquery.Document) { doc.Find("#status").SetText("1 item added to Shopping") })
	}()
	out := d.Await(ctx, ref, base, time.Second)
	assert.True(t, out.Success)
	assert.Equal(t, SourceHeader, out.Source)
}

func TestAwaitIgnoresHiddenLiveRegion(t *testing.T) {
	ctx := context.Background()
	p := domtest.New(`<div id="panel">Birthday</div><div role="alert" style="display:none">Added to Cart</div>`)
	d := newDetector(t, p)
	ref := overlayRef(t, p)

	out := d.Await(ctx, ref, Baseline{}, 60*time.Millisecond)
	assert.False(t, out.Success, "hidden region already on the page")

	base := d.Baseline(ctx, ref)
	go func() {
		time.Sleep(20 * time.Millisecond)
		p.Mutate(func(doc *goquery.Document) {
			doc.Find("body").AppendHtml(`<div role="alert" hidden>Added to Birthday</div>`)
		})
	}()
	out = d.Await(ctx, ref, base, 100*time.Millisecond)
	assert.False(t, out.Success, "hidden region appended after the click")
	assert.Equal(t, 0, p.Watchers())
}

func TestNewRejectsBadConfig(t *testing.T) {
	p := domtest.New(``)
	_, err := New(p, nil, Config{HeaderPattern: "(", LiveRegionPattern: "x"}, nil)
	assert.Error(t, err)
}
