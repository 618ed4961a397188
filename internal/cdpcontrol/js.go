package cdpcontrol

import (
	"encoding/json"
	"strings"
)

// jsString returns v as a quoted JS string literal.
func jsString(v string) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func jsJSON(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}

// isXPath reports whether a selector should be evaluated as XPath rather
// than CSS. A leading "/" (including "//") selects XPath; anything else
// is treated as a CSS selector.
func isXPath(selector string) bool {
	return strings.HasPrefix(selector, "/")
}

// jsSelectorLookup returns a JS expression evaluating to the first
// element matching the selector, or null.
func jsSelectorLookup(selector string) string {
	if isXPath(selector) {
		return "document.evaluate(" + jsString(selector) +
			", document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue"
	}
	return "document.querySelector(" + jsString(selector) + ")"
}

// jsElementExists is the poll predicate for await_element.
func jsElementExists(selector string) string {
	return "!!(" + jsSelectorLookup(selector) + ")"
}

// jsTextExists is the poll predicate for await_text.
func jsTextExists(text string) string {
	return "!!(document.body && document.body.innerText.indexOf(" + jsString(text) + ") !== -1)"
}

// jsDocumentReady is the poll predicate used after navigation.
const jsDocumentReady = `document.readyState === "complete"`

// jsRequireElement wraps a body with a selector lookup that throws when
// nothing matches, so a missing element surfaces as a protocol error
// instead of a silent no-op.
func jsRequireElement(selector, body string) string {
	return `(function(){
var el = ` + jsSelectorLookup(selector) + `;
if (!el) throw new Error("no element matches " + ` + jsString(selector) + `);
` + body + `
})()`
}

func jsClick(selector string) string {
	return jsRequireElement(selector, `el.click();
return true;`)
}

// jsSetValue fills an input and fires the input event so framework-bound
// fields observe the change. The Enter submit, when requested, goes
// through Input.dispatchKeyEvent instead of JS.
func jsSetValue(selector, text string) string {
	return jsRequireElement(selector, `el.focus();
el.value = `+jsString(text)+`;
el.dispatchEvent(new Event("input", {bubbles: true}));
return true;`)
}

// jsSelectOptions marks matching option values selected and fires the
// change event. Values not present in the select are an error.
func jsSelectOptions(selector string, values []string) string {
	return jsRequireElement(selector, `var want = `+jsJSON(values)+`;
var matched = 0;
for (var i = 0; i < el.options.length; i++) {
  var on = want.indexOf(el.options[i].value) !== -1;
  el.options[i].selected = on;
  if (on) matched++;
}
if (matched !== want.length) throw new Error("option values not found in " + `+jsString(selector)+`);
el.dispatchEvent(new Event("change", {bubbles: true}));
return true;`)
}

func jsGetAttribute(selector, name string) string {
	return jsRequireElement(selector, `var v = el.getAttribute(`+jsString(name)+`);
if (v === null) throw new Error("attribute " + `+jsString(name)+` + " not present");
return v;`)
}

// jsExtractText returns element text, or whole-document text when the
// selector is empty.
func jsExtractText(selector string) string {
	if selector == "" {
		return `(document.body ? document.body.innerText : "")`
	}
	return jsRequireElement(selector, `return el.innerText;`)
}

// jsExtractHTML returns serialized markup for the element or document.
// Serialization is what the browser reports for outerHTML, so extracting
// and re-loading the same markup round-trips byte-identically.
func jsExtractHTML(selector string) string {
	if selector == "" {
		return `document.documentElement.outerHTML`
	}
	return jsRequireElement(selector, `return el.outerHTML;`)
}

// jsElementBounds returns an element's border box for screenshot clips.
func jsElementBounds(selector string) string {
	return jsRequireElement(selector, `var r = el.getBoundingClientRect();
return JSON.stringify({x: r.x + window.scrollX, y: r.y + window.scrollY, width: r.width, height: r.height});`)
}

const jsLocationHref = `location.href`
