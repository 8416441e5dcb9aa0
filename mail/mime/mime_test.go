package mime

import (
	"fmt"
	"strings"
	"testing"
)

func TestParseContentType(t *testing.T) {
	ct, err := ParseContentType([]byte(`text/plain; charset="us-ascii"; moo; boundary="foo"`))
	if err != nil {
		t.Error(err)
	}
	if ct.Type != "text" {
		t.Error("type expecting 'text', got:", ct.Type)
	}
	if ct.Subtype != "plain" {
		t.Error("subtype expecting 'plain', got:", ct.Subtype)
	}
	if ct.Param("charset") != "us-ascii" {
		t.Error("charset expecting 'us-ascii', got:", ct.Param("charset"))
	}
	if ct.Param("boundary") != "foo" {
		t.Error("boundary expecting 'foo', got:", ct.Param("boundary"))
	}
}

func TestParseContentTypeCaseAndComment(t *testing.T) {
	ct, err := ParseContentType([]byte("Multipart/Mixed (top level); Boundary=xyz"))
	if err != nil {
		t.Error(err)
	}
	if ct.Type != "multipart" || ct.Subtype != "mixed" {
		t.Error("case not normalized:", ct.Type, ct.Subtype)
	}
	if ct.Param("boundary") != "xyz" {
		t.Error("boundary param lost, got:", ct.Param("boundary"))
	}
}

const simpleMultipart = "From: sender@example.com\r\n" +
	"To: rcpt@example.org\r\n" +
	"Subject: test\r\n" +
	"Content-Type: multipart/alternative; boundary=\"sep\"\r\n" +
	"\r\n" +
	"preamble, ignored\r\n" +
	"--sep\r\n" +
	"Content-Type: text/plain; charset=us-ascii\r\n" +
	"\r\n" +
	"hello world foo\r\n" +
	"--sep\r\n" +
	"Content-Type: text/html; charset=us-ascii\r\n" +
	"\r\n" +
	"<html><body>hello world bar</body></html>\r\n" +
	"--sep--\r\n"

func TestParseMultipart(t *testing.T) {
	tree, err := Parse([]byte(simpleMultipart))
	if err != nil {
		t.Fatal(err)
	}
	if len(tree.Parts) != 3 {
		t.Fatal("expecting 3 parts, got:", len(tree.Parts))
	}
	root := tree.Parts[0]
	if root.Flags&Multipart == 0 {
		t.Error("root should be multipart")
	}
	if root.Parent != -1 {
		t.Error("root parent should be -1")
	}
	plain, html := tree.Parts[1], tree.Parts[2]
	if plain.Parent != 0 || html.Parent != 0 {
		t.Error("children must point at the root")
	}
	if !plain.IsText() || plain.Flags&HTML != 0 {
		t.Error("first child should be plain text")
	}
	if html.Flags&HTML == 0 {
		t.Error("second child should be html")
	}
	if string(plain.Decoded) != "hello world foo" {
		t.Error("plain body wrong:", string(plain.Decoded))
	}
	if kids := tree.Children(0); len(kids) != 2 {
		t.Error("expecting 2 children of root, got:", len(kids))
	}
}

func TestParseNested(t *testing.T) {
	msg := "Content-Type: multipart/mixed; boundary=outer\r\n" +
		"\r\n" +
		"--outer\r\n" +
		"Content-Type: multipart/alternative; boundary=inner\r\n" +
		"\r\n" +
		"--inner\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"inner text\r\n" +
		"--inner--\r\n" +
		"--outer\r\n" +
		"Content-Type: application/octet-stream\r\n" +
		"Content-Disposition: attachment; filename=\"x.bin\"\r\n" +
		"Content-Transfer-Encoding: base64\r\n" +
		"\r\n" +
		"aGVsbG8=\r\n" +
		"--outer--\r\n"
	tree, err := Parse([]byte(msg))
	if err != nil {
		t.Fatal(err)
	}
	if len(tree.Parts) != 4 {
		t.Fatal("expecting 4 parts, got:", len(tree.Parts))
	}
	inner := tree.Parts[2]
	if inner.Depth != 2 || !inner.IsText() {
		t.Error("inner text part wrong shape")
	}
	att := tree.Parts[3]
	if att.Flags&Attachment == 0 {
		t.Error("attachment flag missing")
	}
	if att.Filename != "x.bin" {
		t.Error("filename expecting x.bin, got:", att.Filename)
	}
	if string(att.Decoded) != "hello" {
		t.Error("base64 body wrong:", string(att.Decoded))
	}
}

func TestParseMalformedBoundary(t *testing.T) {
	msg := "Content-Type: multipart/mixed; boundary=nope\r\n" +
		"\r\n" +
		"this body never mentions the marker\r\n"
	tree, err := Parse([]byte(msg))
	if err != nil {
		t.Fatal(err)
	}
	if len(tree.Parts) != 1 {
		t.Fatal("expecting 1 part, got:", len(tree.Parts))
	}
	if tree.Parts[0].Flags&Broken == 0 {
		t.Error("broken flag missing")
	}
	if !strings.Contains(string(tree.Parts[0].Decoded), "never mentions") {
		t.Error("body not retained on malformed boundary")
	}
}

func TestParseTruncatedMultipart(t *testing.T) {
	msg := "Content-Type: multipart/mixed; boundary=sep\r\n" +
		"\r\n" +
		"--sep\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"cut off mid-part"
	tree, err := Parse([]byte(msg))
	if err != nil {
		t.Fatal(err)
	}
	if tree.Parts[0].Flags&Truncated == 0 {
		t.Error("truncated flag missing")
	}
	if len(tree.Parts) != 2 {
		t.Fatal("partial part must be retained")
	}
	if string(tree.Parts[1].Decoded) != "cut off mid-part" {
		t.Error("partial body wrong:", string(tree.Parts[1].Decoded))
	}
}

func TestParseDepthLimit(t *testing.T) {
	var b strings.Builder
	for i := 0; i < MaxDepth+3; i++ {
		bnd := fmt.Sprintf("lvl%02dend", i)
		b.WriteString("Content-Type: multipart/mixed; boundary=" + bnd + "\r\n\r\n")
		b.WriteString("--" + bnd + "\r\n")
	}
	b.WriteString("Content-Type: text/plain\r\n\r\ndeep")
	tree, err := Parse([]byte(b.String()))
	if err != nil {
		t.Fatal(err)
	}
	opaque := false
	for _, p := range tree.Parts {
		if p.Flags&Opaque != 0 {
			opaque = true
			if p.Depth < MaxDepth {
				t.Error("opaque part above the depth limit")
			}
		}
		if p.Depth > MaxDepth {
			t.Error("part parsed past the depth limit")
		}
	}
	if !opaque {
		t.Error("excess nesting must be attached as an opaque part")
	}
}

func TestParseNotMime(t *testing.T) {
	if _, err := Parse([]byte("no header structure here, just text\n")); err == nil {
		t.Error("expecting ErrNotMime")
	}
}

func TestParseMessageRfc822(t *testing.T) {
	msg := "Content-Type: message/rfc822\r\n" +
		"\r\n" +
		"Subject: inner\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"wrapped message\r\n"
	tree, err := Parse([]byte(msg))
	if err != nil {
		t.Fatal(err)
	}
	if len(tree.Parts) != 2 {
		t.Fatal("expecting 2 parts, got:", len(tree.Parts))
	}
	if tree.Parts[0].Flags&Message == 0 {
		t.Error("message flag missing")
	}
	if tree.Parts[1].Headers.First("Subject") != "inner" {
		t.Error("inner message headers lost")
	}
}

func TestDigestStable(t *testing.T) {
	a, err := Parse([]byte(simpleMultipart))
	if err != nil {
		t.Fatal(err)
	}
	b, err := Parse([]byte(simpleMultipart))
	if err != nil {
		t.Fatal(err)
	}
	for i := range a.Parts {
		if a.Parts[i].Digest != b.Parts[i].Digest {
			t.Error("digest not deterministic for part", i)
		}
	}
}
