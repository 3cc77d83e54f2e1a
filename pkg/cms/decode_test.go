package cms

import (
	"encoding/json"
	"errors"
	"testing"
)

func identityAssets(path string) string { return path }

func TestDecodeWishlistRecordFlatShape(t *testing.T) {
	raw := json.RawMessage(`{
		"id": 4,
		"createdAt": "2025-03-01T10:00:00.000Z",
		"articles": [
			{"id": 9, "title": "Bonnet", "price": 25.5, "documentId": 12,
			 "images": [{"formats": {"thumbnail": {"url": "/uploads/thumb_bonnet.jpg"}}}]}
		]
	}`)

	rec, err := decodeWishlistRecord(raw, identityAssets)
	if err != nil {
		t.Fatalf("decode flat record: %v", err)
	}
	if rec.ID != 4 || len(rec.Articles) != 1 {
		t.Fatalf("unexpected record: %+v", rec)
	}
	art := rec.Articles[0]
	if art.ID != 9 || art.Title != "Bonnet" || art.Price != 25.5 || art.DocumentID != 12 {
		t.Fatalf("unexpected article: %+v", art)
	}
	if art.Thumbnail != "/uploads/thumb_bonnet.jpg" {
		t.Fatalf("thumbnail = %q", art.Thumbnail)
	}
}

func TestDecodeWishlistRecordNestedShape(t *testing.T) {
	raw := json.RawMessage(`{
		"id": 7,
		"attributes": {
			"createdAt": "2025-02-11T08:30:00.000Z",
			"articles": {"data": [
				{"id": 3, "attributes": {"title": "Écharpe", "price": 40, "documentId": 5,
				 "images": {"data": [{"attributes": {"formats": {"thumbnail": {"url": "/uploads/thumb_echarpe.jpg"}}}}]}}}
			]}
		}
	}`)

	rec, err := decodeWishlistRecord(raw, identityAssets)
	if err != nil {
		t.Fatalf("decode nested record: %v", err)
	}
	if rec.ID != 7 || len(rec.Articles) != 1 {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if got := rec.Articles[0].Thumbnail; got != "/uploads/thumb_echarpe.jpg" {
		t.Fatalf("thumbnail = %q", got)
	}
	if !rec.Contains(3) || rec.Contains(99) {
		t.Fatal("membership check wrong")
	}
}

func TestDecodeWishlistRecordRejectsUnknownShape(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"no id", `{"createdAt": "2025-01-01T00:00:00Z"}`},
		{"neither flat nor nested", `{"id": 2, "stuff": true}`},
		{"article without fields", `{"id": 2, "createdAt": "2025-01-01T00:00:00Z", "articles": [{"id": 1}]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := decodeWishlistRecord(json.RawMessage(tc.raw), identityAssets)
			if !errors.Is(err, ErrUnknownShape) {
				t.Fatalf("err = %v, want ErrUnknownShape", err)
			}
		})
	}
}

func TestDecodeArticleMissingImagesDegradesToEmptyThumbnail(t *testing.T) {
	raw := json.RawMessage(`{"id": 5, "title": "Gants", "price": 18, "documentId": 2}`)
	art, err := decodeArticle(raw, identityAssets)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if art.Thumbnail != "" {
		t.Fatalf("thumbnail = %q, want empty", art.Thumbnail)
	}
}

func TestArticleIDsPreserveOrder(t *testing.T) {
	rec := WishlistRecord{Articles: []Article{{ID: 3}, {ID: 1}, {ID: 8}}}
	ids := rec.ArticleIDs()
	if len(ids) != 3 || ids[0] != 3 || ids[1] != 1 || ids[2] != 8 {
		t.Fatalf("ids = %v", ids)
	}
}

func TestExcerptStripsMarkupAndTruncates(t *testing.T) {
	in := `<h1>Atelier</h1><p>Créations au <strong>crochet</strong> faites main.</p><script>alert(1)</script>`
	got := Excerpt(in, 100)
	want := "Atelier Créations au crochet faites main."
	if got != want {
		t.Fatalf("excerpt = %q, want %q", got, want)
	}

	short := Excerpt(in, 20)
	if len([]rune(short)) > 21 { // truncated text plus ellipsis rune
		t.Fatalf("excerpt too long: %q", short)
	}
}
