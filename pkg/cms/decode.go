package cms

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrUnknownShape is returned when a CMS record matches neither of the
// two known response layouts (flat, or v4-style attribute-nested).
// Anything else is rejected instead of being silently tolerated.
var ErrUnknownShape = errors.New("cms: unrecognized record shape")

// WishlistRecord is the normalized form of a remote wishlist record.
type WishlistRecord struct {
	ID        int
	CreatedAt time.Time
	Articles  []Article
}

// ArticleIDs returns the tracked article ids in record order.
func (r WishlistRecord) ArticleIDs() []int {
	ids := make([]int, 0, len(r.Articles))
	for _, a := range r.Articles {
		ids = append(ids, a.ID)
	}
	return ids
}

// Contains reports whether the record tracks the article id.
func (r WishlistRecord) Contains(id int) bool {
	for _, a := range r.Articles {
		if a.ID == id {
			return true
		}
	}
	return false
}

// Article is the normalized form of a catalog article.
type Article struct {
	ID         int
	Title      string
	Price      float64
	DocumentID int
	Thumbnail  string
	Content    string
}

type articleFields struct {
	Title      *string         `json:"title"`
	Price      float64         `json:"price"`
	DocumentID int             `json:"documentId"`
	Content    string          `json:"content"`
	Images     json.RawMessage `json:"images"`
}

func decodeWishlistRecord(raw json.RawMessage, assetURL func(string) string) (WishlistRecord, error) {
	var probe struct {
		ID         int               `json:"id"`
		CreatedAt  *time.Time        `json:"createdAt"`
		Articles   []json.RawMessage `json:"articles"`
		Attributes *struct {
			CreatedAt *time.Time `json:"createdAt"`
			Articles  *struct {
				Data []json.RawMessage `json:"data"`
			} `json:"articles"`
		} `json:"attributes"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return WishlistRecord{}, fmt.Errorf("%w: %v", ErrUnknownShape, err)
	}
	if probe.ID == 0 {
		return WishlistRecord{}, fmt.Errorf("%w: wishlist record without id", ErrUnknownShape)
	}

	rec := WishlistRecord{ID: probe.ID}
	var rawArticles []json.RawMessage
	switch {
	case probe.Attributes != nil:
		if probe.Attributes.CreatedAt != nil {
			rec.CreatedAt = *probe.Attributes.CreatedAt
		}
		if probe.Attributes.Articles != nil {
			rawArticles = probe.Attributes.Articles.Data
		}
	case probe.CreatedAt != nil:
		rec.CreatedAt = *probe.CreatedAt
		rawArticles = probe.Articles
	default:
		return WishlistRecord{}, fmt.Errorf("%w: wishlist record %d", ErrUnknownShape, probe.ID)
	}

	for _, rawArticle := range rawArticles {
		article, err := decodeArticle(rawArticle, assetURL)
		if err != nil {
			return WishlistRecord{}, err
		}
		rec.Articles = append(rec.Articles, article)
	}
	return rec, nil
}

func decodeArticle(raw json.RawMessage, assetURL func(string) string) (Article, error) {
	var probe struct {
		ID int `json:"id"`
		articleFields
		Attributes *articleFields `json:"attributes"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return Article{}, fmt.Errorf("%w: %v", ErrUnknownShape, err)
	}
	if probe.ID == 0 {
		return Article{}, fmt.Errorf("%w: article without id", ErrUnknownShape)
	}

	fields := probe.articleFields
	if probe.Attributes != nil {
		fields = *probe.Attributes
	} else if probe.Title == nil {
		return Article{}, fmt.Errorf("%w: article %d", ErrUnknownShape, probe.ID)
	}

	title := ""
	if fields.Title != nil {
		title = *fields.Title
	}
	return Article{
		ID:         probe.ID,
		Title:      title,
		Price:      fields.Price,
		DocumentID: fields.DocumentID,
		Thumbnail:  thumbnailURL(fields.Images, assetURL),
		Content:    fields.Content,
	}, nil
}

type imageFormats struct {
	Thumbnail struct {
		URL string `json:"url"`
	} `json:"thumbnail"`
}

// thumbnailURL digs the thumbnail format out of the images relation.
// The relation arrives either as a bare array or wrapped in a data
// envelope. Missing images or formats degrade to an empty string.
func thumbnailURL(raw json.RawMessage, assetURL func(string) string) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}

	var entries []json.RawMessage
	if raw[0] == '{' {
		var wrapper struct {
			Data []json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(raw, &wrapper); err != nil {
			return ""
		}
		entries = wrapper.Data
	} else if err := json.Unmarshal(raw, &entries); err != nil {
		return ""
	}
	if len(entries) == 0 {
		return ""
	}

	var image struct {
		Formats    *imageFormats `json:"formats"`
		Attributes *struct {
			Formats *imageFormats `json:"formats"`
		} `json:"attributes"`
	}
	if err := json.Unmarshal(entries[0], &image); err != nil {
		return ""
	}
	formats := image.Formats
	if image.Attributes != nil && image.Attributes.Formats != nil {
		formats = image.Attributes.Formats
	}
	if formats == nil || formats.Thumbnail.URL == "" {
		return ""
	}
	return assetURL(formats.Thumbnail.URL)
}
