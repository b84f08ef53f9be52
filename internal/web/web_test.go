package web

import (
	"bytes"
	"strings"
	"testing"
)

type formInput struct {
	Year, Month, Day, Hour, Minute int
	YearBoundary                   string
}

func TestTemplatesRender(t *testing.T) {
	tmpl, err := Templates()
	if err != nil {
		t.Fatalf("parse templates: %v", err)
	}

	input := struct {
		Year, Month, Day, Hour, Minute int
		YearBoundary                   string
	}{2024, 2, 10, 8, 30, "lunar"}

	var buf bytes.Buffer
	err = tmpl.ExecuteTemplate(&buf, "index.html", map[string]any{
		"Input":          input,
		"FailureMessage": "計算失敗",
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	page := buf.String()
	for _, want := range []string{`name="year" value="2024"`, `value="lunar" checked`, `var failureMessage =`} {
		if !strings.Contains(page, want) {
			t.Fatalf("page missing %q", want)
		}
	}
	if strings.Contains(page, `value="solar" checked`) {
		t.Fatal("solar boundary should not be checked")
	}
}

func TestPageShowsOnlyFailureMessage(t *testing.T) {
	tmpl, err := Templates()
	if err != nil {
		t.Fatalf("parse templates: %v", err)
	}
	var buf bytes.Buffer
	err = tmpl.ExecuteTemplate(&buf, "index.html", map[string]any{
		"Input":          formInput{2024, 2, 10, 8, 30, "solar"},
		"FailureMessage": "計算失敗",
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	page := buf.String()

	for _, leak := range []string{"body.error", "err.message"} {
		if strings.Contains(page, leak) {
			t.Fatalf("page displays %s to the user", leak)
		}
	}
	for _, want := range []string{"errorBox.textContent = failureMessage", "new Date()", "fillNow();\n  calculate();"} {
		if !strings.Contains(page, want) {
			t.Fatalf("page missing %q", want)
		}
	}
}
