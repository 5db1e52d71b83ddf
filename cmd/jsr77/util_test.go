package main

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/loykin/jsr77/pkg/client"
)

func TestPrintJSON(t *testing.T) {
	var buf bytes.Buffer
	printJSON(&buf, map[string]int{"x": 1})
	if !strings.Contains(buf.String(), "\"x\": 1") {
		t.Fatalf("unexpected JSON output: %q", buf.String())
	}
}

func TestRenderUnknownFormat(t *testing.T) {
	c, _ := newTestCommand()
	if err := c.render("yaml", nil, func(io.Writer) {}); err == nil {
		t.Fatalf("expected error for unknown format")
	}
}

func TestParseValue(t *testing.T) {
	if v := parseValue("42"); v != float64(42) {
		t.Fatalf("number: got %#v", v)
	}
	if v := parseValue("true"); v != true {
		t.Fatalf("bool: got %#v", v)
	}
	if v := parseValue(`"quoted"`); v != "quoted" {
		t.Fatalf("json string: got %#v", v)
	}
	if v := parseValue("plain text"); v != "plain text" {
		t.Fatalf("raw string: got %#v", v)
	}
}

func TestFormatValue(t *testing.T) {
	cases := map[string]any{
		"-":       nil,
		"abc":     "abc",
		"3":       float64(3),
		"true":    true,
		`[1,2]`:   []any{float64(1), float64(2)},
		`{"a":1}`: map[string]any{"a": 1},
	}
	for want, v := range cases {
		if got := formatValue(v); got != want {
			t.Errorf("formatValue(%#v) = %q, want %q", v, got, want)
		}
	}
}

func TestPrintDeploymentsNestsChildren(t *testing.T) {
	var buf bytes.Buffer
	printDeployments(&buf, []client.Deployment{{
		Name: "store.ear", Kind: "ear", Deployer: "EARDeployer", Location: "/d/store.ear",
		Children: []client.Deployment{{Name: "store-web.war", Kind: "war", Deployer: "WARDeployer", Location: "/d/store.ear/store-web.war"}},
	}})
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header and two rows, got %q", buf.String())
	}
	if !strings.HasPrefix(lines[2], "  store-web.war") {
		t.Fatalf("child row not indented: %q", lines[2])
	}
}

func TestPrintNotification(t *testing.T) {
	var buf bytes.Buffer
	printNotification(&buf, client.Notification{
		Type:      "jmx.attribute.change",
		Source:    "jboss:j2eeType=JTAResource,name=TransactionManager,J2EEServer=Local",
		Sequence:  7,
		Time:      time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		Attribute: &client.AttributeChange{Name: "CommitCount", OldValue: float64(1), NewValue: float64(2)},
	})
	got := buf.String()
	for _, want := range []string{"2024-01-02T03:04:05Z", "#7", "jmx.attribute.change", "CommitCount: 1 -> 2"} {
		if !strings.Contains(got, want) {
			t.Fatalf("notification line %q lacks %q", got, want)
		}
	}
}
