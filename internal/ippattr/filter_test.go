package ippattr

import (
	"testing"

	"github.com/OpenPrinting/goipp"
)

func buildJobAttrs() goipp.Attributes {
	var group goipp.Attributes
	add := Adder(&group)
	add("job-id", goipp.TagInteger, goipp.Integer(1))
	add("job-name", goipp.TagName, goipp.String("report.pdf"))
	add("job-originating-user-name", goipp.TagName, goipp.String("alice"))
	add("job-state", goipp.TagEnum, goipp.Integer(5))
	return group
}

func TestFilterAll(t *testing.T) {
	f := Filter{Requested: []string{"all"}}
	out := f.Apply(buildJobAttrs())
	if len(out) != 4 {
		t.Fatalf("expected all 4 attributes, got %d", len(out))
	}
}

func TestFilterNone(t *testing.T) {
	f := Filter{Requested: []string{"none"}}
	out := f.Apply(buildJobAttrs())
	if len(out) != 0 {
		t.Fatalf("expected no attributes, got %d", len(out))
	}
}

func TestFilterSpecificList(t *testing.T) {
	f := Filter{Requested: []string{"job-id", "job-name"}}
	out := f.Apply(buildJobAttrs())
	if len(out) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(out))
	}
}

func TestFilterRedactsPrivateAttribute(t *testing.T) {
	f := Filter{
		Requested: []string{"all"},
		Redact:    []string{"job-originating-user-name"},
	}
	out := f.Apply(buildJobAttrs())
	for _, attr := range out {
		if attr.Name == "job-originating-user-name" {
			t.Fatal("private attribute leaked to unprivileged caller")
		}
	}
	if len(out) != 3 {
		t.Fatalf("expected 3 attributes after redaction, got %d", len(out))
	}
}

func TestFilterOwnerSeesRedactedAttribute(t *testing.T) {
	f := Filter{
		Requested:     []string{"all"},
		Redact:        []string{"job-originating-user-name"},
		AllowRedacted: true,
	}
	out := f.Apply(buildJobAttrs())
	if len(out) != 4 {
		t.Fatalf("expected owner to see all 4 attributes, got %d", len(out))
	}
}

func TestFilterGroupKeyword(t *testing.T) {
	f := Filter{
		Requested: []string{"job-template"},
		Groups: map[string][]string{
			"job-template": {"job-name"},
		},
	}
	out := f.Apply(buildJobAttrs())
	if len(out) != 1 || out[0].Name != "job-name" {
		t.Fatalf("expected only job-name, got %v", out)
	}
}

func TestFilterDefaultsWhenEmpty(t *testing.T) {
	f := Filter{Defaults: []string{"job-id"}}
	out := f.Apply(buildJobAttrs())
	if len(out) != 1 || out[0].Name != "job-id" {
		t.Fatalf("expected defaults to apply, got %v", out)
	}
}
