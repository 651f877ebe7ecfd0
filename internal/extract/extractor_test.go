package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePage = `<!DOCTYPE html>
<html>
<head>
	<title>  Widgets &amp; Gadgets  </title>
	<meta name="description" content="All about widgets.">
	<style>body { color: red; }</style>
	<script>var tracking = "ignore me";</script>
</head>
<body>
	<h1>Widgets</h1>
	<p>We sell <b>fine</b> widgets.</p>
	<noscript>Enable JavaScript!</noscript>
	<a href="/catalog">Catalog</a>
	<a href="https://other.example/about">About</a>
	<a href="#top">Top</a>
	<a href="javascript:void(0)">Popup</a>
	<a href="mailto:sales@example.com">Email</a>
	<a href="">Empty</a>
</body>
</html>`

func TestParse(t *testing.T) {
	doc, err := Parse([]byte(samplePage))
	require.NoError(t, err)

	assert.Equal(t, "Widgets & Gadgets", doc.Title)
	assert.Equal(t, "All about widgets.", doc.MetaDesc)
	// Anchor text is page text too, matching the rest of the body.
	assert.Equal(t, "Widgets We sell fine widgets. Catalog About Top Popup Email Empty", doc.Text)
	assert.Equal(t, []string{"/catalog", "https://other.example/about"}, doc.Links)
}

func TestParse_MalformedHTML(t *testing.T) {
	// Unclosed tags still yield a usable document.
	doc, err := Parse([]byte(`<title>Broken</title><p>some text <a href="/next">next`))
	require.NoError(t, err)
	assert.Equal(t, "Broken", doc.Title)
	assert.Contains(t, doc.Text, "some text")
	assert.Equal(t, []string{"/next"}, doc.Links)
}

func TestParse_Empty(t *testing.T) {
	doc, err := Parse(nil)
	require.NoError(t, err)
	assert.Empty(t, doc.Title)
	assert.Empty(t, doc.Text)
	assert.Empty(t, doc.Links)
}

func TestParse_NestedAnchorText(t *testing.T) {
	doc, err := Parse([]byte(`<body><a href="/a"><span>inner</span> text</a> tail</body>`))
	require.NoError(t, err)
	assert.Equal(t, []string{"/a"}, doc.Links)
	assert.Equal(t, "inner text tail", doc.Text)
}
