package output

import (
	"strings"
	"testing"
	"time"

	"github.com/marcus/wander/internal/models"
)

func TestSyncBadgeSymbols(t *testing.T) {
	cases := []struct {
		status models.SyncStatus
		symbol string
	}{
		{models.SyncPending, "○"},
		{models.SyncSyncing, "↑"},
		{models.SyncSynced, "✓"},
		{models.SyncFailed, "✗"},
	}
	for _, c := range cases {
		got := SyncBadge(c.status)
		if !strings.Contains(got, c.symbol) || !strings.Contains(got, string(c.status)) {
			t.Errorf("SyncBadge(%s) = %q", c.status, got)
		}
	}
	if got := SyncBadge(models.SyncStatus("bogus")); !strings.Contains(got, "?") {
		t.Errorf("unknown status badge = %q", got)
	}
}

func TestFormatRating(t *testing.T) {
	if got := FormatRating(0); got != "" {
		t.Errorf("unrated = %q, want empty", got)
	}
	if got := FormatRating(3); !strings.Contains(got, "★★★☆☆") {
		t.Errorf("FormatRating(3) = %q", got)
	}
	if got := FormatRating(7); !strings.Contains(got, "★★★★★") {
		t.Errorf("FormatRating(7) = %q, want clamped to 5", got)
	}
}

func TestFormatPlaceShort(t *testing.T) {
	p := &models.Place{Name: "Eiffel Tower", Lat: 48.8584, Lng: 2.2945, Category: "landmark"}
	p.ID = "pl-abc1"
	p.SyncStatus = models.SyncPending

	got := FormatPlaceShort(p)
	for _, want := range []string{"pl-abc1", "Eiffel Tower", "landmark", "48.8584", "pending"} {
		if !strings.Contains(got, want) {
			t.Errorf("FormatPlaceShort missing %q in %q", want, got)
		}
	}
}

func TestFormatLogShortShowsPendingPhotos(t *testing.T) {
	l := &models.Log{
		PlaceID:   "pl-abc1",
		Rating:    4,
		VisitedAt: time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC),
		Photos:    []models.AttachmentRef{{BlobID: "bl-x"}, {URL: "https://cdn/x"}},
	}
	l.ID = "lg-def2"
	l.SyncStatus = models.SyncSynced

	got := FormatLogShort(l, "Eiffel Tower")
	if !strings.Contains(got, "1 photo(s) uploading") {
		t.Errorf("missing pending photo warning in %q", got)
	}
	if !strings.Contains(got, "Eiffel Tower") {
		t.Errorf("place name not substituted in %q", got)
	}
}

func TestFormatLogLong(t *testing.T) {
	p := &models.Place{Name: "Jiro"}
	p.ID = "pl-1"
	tr := &models.Trip{Name: "Tokyo"}
	tr.ID = "tr-1"
	l := &models.Log{
		PlaceID:   p.ID,
		TripID:    tr.ID,
		Rating:    5,
		Note:      "best meal of the trip",
		Tags:      []string{"sushi", "omakase"},
		VisitedAt: time.Date(2026, 8, 20, 19, 30, 0, 0, time.UTC),
		Photos:    []models.AttachmentRef{{URL: "https://cdn.example.com/bl-1"}},
	}
	l.ID = "lg-1"
	l.SyncStatus = models.SyncSynced

	got := FormatLogLong(l, p, tr)
	for _, want := range []string{"lg-1: Jiro", "2026-08-20 19:30", "Tokyo (tr-1)", "sushi, omakase", "best meal", "https://cdn.example.com/bl-1"} {
		if !strings.Contains(got, want) {
			t.Errorf("FormatLogLong missing %q", want)
		}
	}
}

func TestFormatTimeAgo(t *testing.T) {
	now := time.Now()
	cases := []struct {
		t    time.Time
		want string
	}{
		{now.Add(-10 * time.Second), "just now"},
		{now.Add(-1 * time.Minute), "1m ago"},
		{now.Add(-5 * time.Minute), "5m ago"},
		{now.Add(-1 * time.Hour), "1h ago"},
		{now.Add(-3 * 24 * time.Hour), "3d ago"},
	}
	for _, c := range cases {
		if got := FormatTimeAgo(c.t); got != c.want {
			t.Errorf("FormatTimeAgo = %q, want %q", got, c.want)
		}
	}
	old := now.Add(-30 * 24 * time.Hour)
	if got := FormatTimeAgo(old); got != old.Format("2006-01-02") {
		t.Errorf("old timestamp = %q", got)
	}
}

func TestIndentString(t *testing.T) {
	if got := IndentString("a\nb", 2); got != "  a\n  b" {
		t.Errorf("IndentString = %q", got)
	}
	if got := IndentString("", 2); got != "" {
		t.Errorf("empty input = %q", got)
	}
}

func TestRenderMarkdownEmpty(t *testing.T) {
	got, err := RenderMarkdown("   \n  ")
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if got != "" {
		t.Errorf("blank markdown rendered %q", got)
	}
}

func TestRenderMarkdownWithWidth(t *testing.T) {
	got, err := RenderMarkdownWithWidth("# Trip Notes\n\nsome *markdown*", 60)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(got, "Trip Notes") {
		t.Errorf("rendered output missing heading: %q", got)
	}
}
