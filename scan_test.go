package mailscan

import (
	"net"
	"strings"
	"testing"

	"github.com/flashmob/go-mailscan/config"
)

func testScanner() *Scanner {
	return New(config.Default(), nil)
}

const altMessage = "From: sender@example.com\r\n" +
	"To: First Rcpt <one@example.org>, two@example.org\r\n" +
	"Cc: three@example.org\r\n" +
	"Return-Path: <bounce@example.com>\r\n" +
	"Message-ID: <abc123@example.com>\r\n" +
	"Subject: greetings\r\n" +
	"Content-Type: multipart/alternative; boundary=\"sep\"\r\n" +
	"\r\n" +
	"--sep\r\n" +
	"Content-Type: text/plain; charset=us-ascii\r\n" +
	"\r\n" +
	"hello world foo\r\n" +
	"--sep\r\n" +
	"Content-Type: text/plain; charset=us-ascii\r\n" +
	"\r\n" +
	"hello world bar\r\n" +
	"--sep--\r\n"

func TestScanAlternativeSimilarity(t *testing.T) {
	task, err := testScanner().Scan([]byte(altMessage), Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer task.Close()

	if len(task.TextParts) != 2 {
		t.Fatal("expecting 2 text parts, got:", len(task.TextParts))
	}
	dist, ok := task.Scratch["parts_distance"].(int)
	if !ok {
		t.Fatal("parts_distance not published")
	}
	if dist != 2 {
		t.Error("expecting distance 2, got:", dist)
	}
	ratio := task.Scratch["parts_distance_ratio"].(float64)
	if ratio < 0.33 || ratio > 0.34 {
		t.Error("expecting ratio ~0.333, got:", ratio)
	}
	if tw := task.Scratch["total_words"].(int); tw != 6 {
		t.Error("expecting 6 total words, got:", tw)
	}
}

func TestScanHeadersAndAddresses(t *testing.T) {
	task, err := testScanner().Scan([]byte(altMessage), Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer task.Close()

	if task.MessageID != "abc123@example.com" {
		t.Error("message id wrong:", task.MessageID)
	}
	if task.Subject != "greetings" {
		t.Error("subject wrong:", task.Subject)
	}
	if task.EnvelopeFrom != "bounce@example.com" {
		t.Error("envelope from wrong:", task.EnvelopeFrom)
	}
	if len(task.Recipients) != 3 {
		t.Fatal("expecting 3 recipients, got:", task.Recipients)
	}
	if task.Recipients[0].User != "one" || task.Recipients[0].Host != "example.org" {
		t.Error("first recipient wrong:", task.Recipients[0])
	}
	if len(task.FromAddrs) != 1 || task.FromAddrs[0].User != "sender" {
		t.Error("from list wrong:", task.FromAddrs)
	}
}

func TestScanMessageIDUndef(t *testing.T) {
	msg := "From: a@b.example\r\nSubject: x\r\n\r\nbody\r\n"
	task, err := testScanner().Scan([]byte(msg), Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer task.Close()
	if task.MessageID != UndefMessageID {
		t.Error("expecting undef message id, got:", task.MessageID)
	}
}

func TestScanGtube(t *testing.T) {
	msg := "From: probe@example.com\r\n" +
		"Subject: test\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"This is the GTUBE probe:\r\n" + GTUBE + "\r\n"
	task, err := testScanner().Scan([]byte(msg), Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer task.Close()

	if !task.HasFlag(FlagGtube) || !task.HasFlag(FlagSkip) {
		t.Error("gtube flags not set")
	}
	if task.PreResult == nil || task.PreResult.Action != Reject {
		t.Fatal("pre-result should be reject")
	}
	if task.PreResult.Message != "Gtube pattern" {
		t.Error("pre-result message wrong:", task.PreResult.Message)
	}
	found := false
	for _, sym := range task.Symbols {
		if sym == "GTUBE" {
			found = true
		}
	}
	if !found {
		t.Error("GTUBE symbol not injected")
	}
}

func TestScanGtubeLargePartIgnored(t *testing.T) {
	big := strings.Repeat("padding ", 1024) // > 4 KiB
	msg := "From: probe@example.com\r\nContent-Type: text/plain\r\n\r\n" +
		big + GTUBE + "\r\n"
	task, err := testScanner().Scan([]byte(msg), Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer task.Close()
	if task.HasFlag(FlagGtube) {
		t.Error("gtube must only match in small parts")
	}
}

func TestScanMboxFromLine(t *testing.T) {
	msg := "From bounce@example.com Thu Jan  1 00:00:00 2024\r\n" +
		"From: real@example.com\r\nSubject: mbox\r\n\r\nbody\r\n"
	task, err := testScanner().Scan([]byte(msg), Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer task.Close()
	if task.Subject != "mbox" {
		t.Error("envelope line not skipped, subject:", task.Subject)
	}
	if len(task.FromAddrs) != 1 || task.FromAddrs[0].User != "real" {
		t.Error("from header lost:", task.FromAddrs)
	}
}

func TestScanRawFallback(t *testing.T) {
	cfg := config.Default()
	cfg.AllowRawInput = true
	s := New(cfg, nil)
	s.ContentType = func(b []byte) (string, bool) { return "text/plain", true }

	task, err := s.Scan([]byte("no header structure, plain junk\n"), Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer task.Close()
	if !task.HasFlag(FlagBrokenMime) {
		t.Error("broken mime flag missing")
	}
	if len(task.TextParts) != 1 {
		t.Fatal("raw fallback should synthesize one text part")
	}
	if task.MessageID != UndefMessageID {
		t.Error("raw fallback message id should be undef")
	}
}

func TestScanRawForbidden(t *testing.T) {
	cfg := config.Default()
	cfg.AllowRawInput = false
	s := New(cfg, nil)
	if _, err := s.Scan([]byte("no header structure, plain junk\n"), Options{}); err != ErrRawForbidden {
		t.Error("expecting ErrRawForbidden, got:", err)
	}
}

func TestScanSubjectURL(t *testing.T) {
	msg := "From: a@b.example\r\n" +
		"Subject: act now http://spam.example/deal\r\n" +
		"Content-Type: text/plain\r\n\r\nclean body\r\n"
	task, err := testScanner().Scan([]byte(msg), Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer task.Close()
	found := false
	for _, u := range task.URLs {
		if u.Host == "spam.example" {
			found = true
		}
	}
	if !found {
		t.Error("subject url not extracted:", task.URLs)
	}
}

func TestScanBodyURLsSkippedInTokens(t *testing.T) {
	msg := "From: a@b.example\r\nContent-Type: text/plain\r\n\r\n" +
		"click http://evil.example/now please\r\n"
	task, err := testScanner().Scan([]byte(msg), Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer task.Close()
	if len(task.URLs) == 0 || task.URLs[0].Host != "evil.example" {
		t.Fatal("body url not extracted:", task.URLs)
	}
	tp := task.TextParts[0]
	for _, tok := range tp.Tokens {
		if strings.Contains(string(tok), "evil") {
			t.Error("url region leaked into tokens:", string(tok))
		}
	}
	if len(tp.Tokens) != len(tp.Hashes) {
		t.Error("token/hash parallelism broken")
	}
}

func TestScanReceivedChain(t *testing.T) {
	msg := "Received: from mx1.example.net (mx1.example.net [198.51.100.3]) by mx.local with ESMTP; Tue, 30 Jan 2024 10:00:00 +0000\r\n" +
		"Received: from origin.example.org (origin.example.org [203.0.113.9]) by mx1.example.net with ESMTP; Tue, 30 Jan 2024 09:59:00 +0000\r\n" +
		"From: a@b.example\r\nContent-Type: text/plain\r\n\r\nbody\r\n"

	// no observed ip: adopt the first hop
	task, err := testScanner().Scan([]byte(msg), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if task.SourceIP == nil || task.SourceIP.String() != "198.51.100.3" {
		t.Error("first hop ip not adopted:", task.SourceIP)
	}
	task.Close()

	// observed ip disagreeing with the chain: synthesize a first hop
	observed := net.ParseIP("192.0.2.50")
	task, err = testScanner().Scan([]byte(msg), Options{SourceIP: observed})
	if err != nil {
		t.Fatal(err)
	}
	defer task.Close()
	if len(task.Received) != 3 {
		t.Fatal("expecting synthetic hop prepended, got:", len(task.Received))
	}
	if !task.Received[0].RealIP.Equal(observed) {
		t.Error("synthetic hop has wrong ip")
	}
}

func TestScanReceivedIgnored(t *testing.T) {
	msg := "Received: from x (x [198.51.100.3]) by y with SMTP; Tue, 30 Jan 2024 10:00:00 +0000\r\n" +
		"From: a@b.example\r\nContent-Type: text/plain\r\n\r\nbody\r\n"
	cfg := config.Default()
	cfg.IgnoreReceived = true
	task, err := New(cfg, nil).Scan([]byte(msg), Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer task.Close()
	if task.SourceIP != nil {
		t.Error("ignore_received must not adopt the chain ip")
	}
}

func TestScanDigestDeterministic(t *testing.T) {
	t1, err := testScanner().Scan([]byte(altMessage), Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer t1.Close()
	t2, err := testScanner().Scan([]byte(altMessage), Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer t2.Close()
	if t1.Digest != t2.Digest {
		t.Error("digest not deterministic")
	}
	var zero [16]byte
	if t1.Digest == zero {
		t.Error("digest not accumulated")
	}
}

func TestScanTextAttachmentGate(t *testing.T) {
	msg := "From: a@b.example\r\n" +
		"Content-Type: multipart/mixed; boundary=sep\r\n\r\n" +
		"--sep\r\n" +
		"Content-Type: text/plain\r\n\r\n" +
		"visible body\r\n" +
		"--sep\r\n" +
		"Content-Type: text/plain\r\n" +
		"Content-Disposition: attachment; filename=\"notes.txt\"\r\n\r\n" +
		"attached text\r\n" +
		"--sep--\r\n"

	task, err := testScanner().Scan([]byte(msg), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(task.TextParts) != 1 {
		t.Error("attachment text must be skipped by default, got:", len(task.TextParts))
	}
	task.Close()

	cfg := config.Default()
	cfg.CheckTextAttachments = true
	task, err = New(cfg, nil).Scan([]byte(msg), Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer task.Close()
	if len(task.TextParts) != 2 {
		t.Error("check_text_attachments must include the attachment, got:", len(task.TextParts))
	}
}
