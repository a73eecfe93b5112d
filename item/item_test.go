package item

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fffoivos/Amazon-lists/dom/domtest"
	"github.com/fffoivos/Amazon-lists/locator"
)

var testTable = locator.Table{
	locator.ItemIdentifier: {{Kind: locator.KindSelector, Selector: "input#ASIN"}},
	locator.ItemTitle:      {{Kind: locator.KindSelector, Selector: "#productTitle"}},
	locator.ItemPrice:      {{Kind: locator.KindSelector, Selector: ".a-price .a-offscreen"}},
	locator.ItemImage:      {{Kind: locator.KindSelector, Selector: "#landingImage"}},
}

var testConfig = Config{
	IdentifierPattern: `/(?:dp|gp/product)/([A-Z0-9]{10})`,
	ImageAttrs:        []string{"data-old-hires", "src"},
}

const productPage = `
<span id="productTitle">  Blue Kettle  </span>
<span class="a-price"><span class="a-offscreen">$19.99</span></span>
<img id="landingImage" src="https://img.test/small.jpg" data-old-hires="https://img.test/big.jpg">
<input type="hidden" id="ASIN" value="B000FORM01">`

func newReader(t *testing.T, p *domtest.Page) *Reader {
	t.Helper()
	r, err := NewReader(p, locator.New(p, testTable), testConfig)
	require.NoError(t, err)
	return r
}

func TestReadFromURL(t *testing.T) {
	p := domtest.New(productPage, domtest.WithURL("https://www.amazon.test/Blue-Kettle/dp/B0KETTLE01?th=1"))
	c, err := newReader(t, p).Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Context{
		Identifier: "B0KETTLE01",
		Title:      "Blue Kettle",
		Price:      "$19.99",
		ImageURL:   "https://img.test/big.jpg",
	}, c)
}

func TestIdentifierFallsBackToPage(t *testing.T) {
	p := domtest.New(productPage, domtest.WithURL("https://www.amazon.test/some-redirect"))
	id, err := newReader(t, p).Identifier(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "B000FORM01", id)
}

func TestNotItemPage(t *testing.T) {
	p := domtest.New(`<h1>Your Account</h1>`, domtest.WithURL("https://www.amazon.test/gp/css/homepage.html"))
	_, err := newReader(t, p).Read(context.Background())
	assert.ErrorIs(t, err, ErrNotItemPage)
}

func TestConfigNeedsGroup(t *testing.T) {
	assert.Error(t, Config{IdentifierPattern: `/dp/[A-Z0-9]+`}.Validate())
	assert.NoError(t, testConfig.Validate())
}
