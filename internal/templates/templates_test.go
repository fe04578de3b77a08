package templates

import (
	"strings"
	"testing"
)

func TestRenderCoversAllBusinessTypes(t *testing.T) {
	for _, businessType := range All() {
		sql := Render(businessType)
		if sql == "" {
			t.Fatalf("empty template for %s", businessType)
		}
		if !strings.Contains(sql, "CREATE TABLE IF NOT EXISTS") {
			t.Fatalf("template %s is not idempotent DDL", businessType)
		}
		if !strings.Contains(sql, "ENABLE ROW LEVEL SECURITY") {
			t.Fatalf("template %s does not enable row level security", businessType)
		}
	}
}

func TestRenderFallsBackToCustom(t *testing.T) {
	fallback := Render("definitely-not-a-template")
	if fallback == "" {
		t.Fatal("expected fallback template, got empty SQL")
	}
	if fallback != Render(TypeCustom) {
		t.Fatal("unknown business type must render the custom template")
	}
}
