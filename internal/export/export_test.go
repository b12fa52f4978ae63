package export

import (
	"strings"
	"testing"
	"time"
)

func TestRenderHTMLListsMoviesInRankOrder(t *testing.T) {
	html, err := renderHTML("Avery", []Item{
		{Rank: 1, Title: "Alien"},
		{Rank: 2, Title: "Blade Runner", Overview: "Replicants."},
		{Rank: 3, Title: "Casablanca"},
	}, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("renderHTML error = %v", err)
	}

	if !strings.Contains(html, "Avery") {
		t.Error("expected owner name in output")
	}
	if !strings.Contains(html, "3 movies") {
		t.Error("expected movie count in output")
	}
	alien := strings.Index(html, "Alien")
	blade := strings.Index(html, "Blade Runner")
	casa := strings.Index(html, "Casablanca")
	if alien == -1 || blade == -1 || casa == -1 {
		t.Fatal("expected all titles in output")
	}
	if !(alien < blade && blade < casa) {
		t.Error("expected titles in rank order")
	}
	if !strings.Contains(html, "Replicants.") {
		t.Error("expected overview in output")
	}
}

func TestRenderHTMLEscapesTitles(t *testing.T) {
	html, err := renderHTML("Avery", []Item{
		{Rank: 1, Title: `<script>alert("x")</script>`},
	}, time.Now())
	if err != nil {
		t.Fatalf("renderHTML error = %v", err)
	}
	if strings.Contains(html, "<script>alert") {
		t.Error("expected title to be escaped")
	}
}

func TestPercentEncodeForDataURL(t *testing.T) {
	got := percentEncodeForDataURL("a b+c")
	if got != "a%20b%2Bc" {
		t.Fatalf("unexpected encoding: %q", got)
	}
}

func TestSanitizeFilename(t *testing.T) {
	got := sanitizeFilename("Avery's movie ranking!")
	if got != "Averys-movie-ranking" {
		t.Fatalf("unexpected filename: %q", got)
	}
}
