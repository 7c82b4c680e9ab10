package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/openshelf/bibcat/internal/cache"
	"github.com/openshelf/bibcat/internal/fetcher"
	"github.com/openshelf/bibcat/internal/model"
	"github.com/openshelf/bibcat/internal/normalize"
	"github.com/openshelf/bibcat/internal/resilience"
)

const googleBooksBaseURL = "https://www.googleapis.com/books/v1"

// GoogleBooks looks items up in the Google Books volumes API.
type GoogleBooks struct {
	client
	baseURL string
}

// NewGoogleBooks creates the Google Books adapter.
func NewGoogleBooks(http *fetcher.Client, c *cache.Cache, retry resilience.RetryConfig) *GoogleBooks {
	return &GoogleBooks{client: newClient(http, c, retry), baseURL: googleBooksBaseURL}
}

func (g *GoogleBooks) Source() model.Source {
	return model.SourceGoogleBooks
}

type googleIdentifier struct {
	Type       string `json:"type"`
	Identifier string `json:"identifier"`
}

type googleSeries struct {
	Title string `json:"title"`
}

type googleVolumeInfo struct {
	Title               string             `json:"title"`
	Authors             []string           `json:"authors"`
	Publisher           string             `json:"publisher"`
	PublishedDate       string             `json:"publishedDate"`
	Description         string             `json:"description"`
	Categories          []string           `json:"categories"`
	PageCount           int                `json:"pageCount"`
	IndustryIdentifiers []googleIdentifier `json:"industryIdentifiers"`
	SeriesInfo          struct {
		BookDisplayNumber string         `json:"bookDisplayNumber"`
		Series            []googleSeries `json:"series"`
	} `json:"seriesInfo"`
}

type googleVolumes struct {
	TotalItems int `json:"totalItems"`
	Items      []struct {
		VolumeInfo googleVolumeInfo `json:"volumeInfo"`
	} `json:"items"`
}

func (g *GoogleBooks) Lookup(ctx context.Context, item model.Item) ([]model.Fact, error) {
	isbn := cleanISBN(item.ISBN)

	var (
		payload []byte
		err     error
		method  model.MatchMethod
	)
	if isbn != "" {
		method = model.MatchExactIdentifier
		query := url.QueryEscape("isbn:" + isbn)
		payload, err = g.fetch(ctx, g.Source(), "isbn",
			fmt.Sprintf("%s/volumes?q=%s&maxResults=1", g.baseURL, query),
			[]string{isbn}, nil)
	} else {
		if item.Title == "" {
			return nil, nil
		}
		method = model.MatchFuzzySearch
		title := normalize.SafeQueryTerm(item.Title)
		author := normalize.SafeQueryTerm(item.Author)
		query := fmt.Sprintf(`intitle:%q`, title)
		if author != "" {
			query += fmt.Sprintf(`+inauthor:%q`, author)
		}
		payload, err = g.fetch(ctx, g.Source(), "search",
			fmt.Sprintf("%s/volumes?q=%s&maxResults=1", g.baseURL, url.QueryEscape(query)),
			[]string{title, author}, nil)
	}
	if err != nil {
		return nil, err
	}

	var result googleVolumes
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, resilience.NewPermanentError(eris.Wrap(err, "google books: parse response"), 0)
	}
	if result.TotalItems == 0 || len(result.Items) == 0 {
		return nil, nil
	}

	info := result.Items[0].VolumeInfo
	confidence := 0.9
	if method == model.MatchFuzzySearch {
		confidence = 0.6
	}

	itemID := item.Barcode
	facts := []model.Fact{
		g.fact(g.Source(), itemID, model.FieldTitle, info.Title, confidence, method),
		g.fact(g.Source(), itemID, model.FieldAuthor, strings.Join(info.Authors, "; "), confidence, method),
		g.fact(g.Source(), itemID, model.FieldPublisher, info.Publisher, confidence, method),
		g.fact(g.Source(), itemID, model.FieldPubYear, normalize.ExtractYear(info.PublishedDate), confidence, method),
		g.fact(g.Source(), itemID, model.FieldDescription, info.Description, confidence, method),
		g.fact(g.Source(), itemID, model.FieldSubjects, strings.Join(info.Categories, "; "), confidence, method),
		g.fact(g.Source(), itemID, model.FieldSeriesName, seriesTitle(info.SeriesInfo.Series), confidence, method),
		g.fact(g.Source(), itemID, model.FieldSeriesVolume, info.SeriesInfo.BookDisplayNumber, confidence, method),
	}
	if isbn13 := pickISBN13(info.IndustryIdentifiers); isbn13 != "" {
		facts = append(facts, g.fact(g.Source(), itemID, model.FieldISBN, isbn13, confidence, method))
	}
	if info.PageCount > 0 {
		facts = append(facts,
			g.fact(g.Source(), itemID, model.FieldPhysicalDesc, fmt.Sprintf("%d pages", info.PageCount), confidence, method))
	}
	return facts, nil
}

func seriesTitle(series []googleSeries) string {
	if len(series) == 0 {
		return ""
	}
	return series[0].Title
}

func pickISBN13(ids []googleIdentifier) string {
	var isbn10 string
	for _, id := range ids {
		switch id.Type {
		case "ISBN_13":
			return id.Identifier
		case "ISBN_10":
			isbn10 = id.Identifier
		}
	}
	return isbn10
}

// cleanISBN strips dashes and spaces from an ISBN.
func cleanISBN(isbn string) string {
	return strings.Map(func(r rune) rune {
		if r == '-' || r == ' ' {
			return -1
		}
		return r
	}, strings.TrimSpace(isbn))
}
