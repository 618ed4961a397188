package markdown

import (
	"strings"
	"testing"
)

func TestConvertHeadingsAndParagraphs(t *testing.T) {
	in := `<html><body>
<h1>Main Title</h1>
<p>First paragraph.</p>
<h2>Section</h2>
<p>Second   paragraph
spanning lines.</p>
</body></html>`

	got, err := Convert(in)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	want := "# Main Title\n\nFirst paragraph.\n\n## Section\n\nSecond paragraph spanning lines.\n"
	if got != want {
		t.Errorf("got %q\nwant %q", got, want)
	}
}

func TestConvertInlineMarkup(t *testing.T) {
	in := `<body><p>Read the <a href="https://docs.test/guide">guide</a>, it is <strong>important</strong> and <em>short</em>; run <code>make test</code>.</p></body>`

	got, err := Convert(in)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	for _, want := range []string{
		"[guide](https://docs.test/guide)",
		"**important**",
		"*short*",
		"`make test`",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output %q missing %q", got, want)
		}
	}
}

func TestConvertAnchorWithoutHref(t *testing.T) {
	in := `<body><p>See <a name="s1">section one</a> below.</p></body>`

	got, err := Convert(in)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if got != "See section one below.\n" {
		t.Errorf("got %q, want plain text for a link with no target", got)
	}
}

func TestConvertLists(t *testing.T) {
	in := `<body>
<ul><li>alpha</li><li>beta</li></ul>
<ol><li>one</li><li>two</li><li>three</li></ol>
</body>`

	got, err := Convert(in)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	want := "- alpha\n- beta\n\n1. one\n2. two\n3. three\n"
	if got != want {
		t.Errorf("got %q\nwant %q", got, want)
	}
}

func TestConvertCodeBlock(t *testing.T) {
	in := "<body><pre>func main() {\n\tprintln(\"hi\")\n}\n</pre></body>"

	got, err := Convert(in)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if !strings.HasPrefix(got, "```\nfunc main() {") {
		t.Errorf("code fence missing: %q", got)
	}
	if !strings.HasSuffix(got, "}\n```\n") {
		t.Errorf("code fence not closed: %q", got)
	}
}

func TestConvertDropsScriptsAndStyles(t *testing.T) {
	in := `<html><head><title>ignored</title><style>p{color:red}</style></head>
<body><script>alert("x")</script><p>visible</p><noscript>hidden</noscript></body></html>`

	got, err := Convert(in)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if got != "visible\n" {
		t.Errorf("got %q, want only the visible paragraph", got)
	}
}

func TestConvertUnknownElementsAreTransparent(t *testing.T) {
	in := `<body><div><section><p>nested deep</p></section></div></body>`

	got, err := Convert(in)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if got != "nested deep\n" {
		t.Errorf("got %q", got)
	}
}

func TestConvertEmptyInput(t *testing.T) {
	got, err := Convert("")
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if got != "" {
		t.Errorf("got %q, want empty output", got)
	}
}

func TestConvertDeterministic(t *testing.T) {
	in := `<body><h1>T</h1><ul><li>a <a href="/x">x</a></li><li>b</li></ul><p>done</p></body>`
	first, err := Convert(in)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	second, err := Convert(in)
	if err != nil {
		t.Fatalf("Convert again: %v", err)
	}
	if first != second {
		t.Errorf("conversion is not deterministic:\n%q\n%q", first, second)
	}
}
