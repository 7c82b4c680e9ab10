package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/openshelf/bibcat/internal/cache"
	"github.com/openshelf/bibcat/internal/fetcher"
	"github.com/openshelf/bibcat/internal/model"
	"github.com/openshelf/bibcat/internal/normalize"
	"github.com/openshelf/bibcat/internal/resilience"
)

const openLibraryBaseURL = "https://openlibrary.org"

// OpenLibrary looks items up in the Open Library editions and search APIs.
type OpenLibrary struct {
	client
	baseURL string
}

// NewOpenLibrary creates the Open Library adapter.
func NewOpenLibrary(http *fetcher.Client, c *cache.Cache, retry resilience.RetryConfig) *OpenLibrary {
	return &OpenLibrary{client: newClient(http, c, retry), baseURL: openLibraryBaseURL}
}

func (o *OpenLibrary) Source() model.Source {
	return model.SourceOpenLibrary
}

type openLibraryEdition struct {
	Title         string   `json:"title"`
	PublishDate   string   `json:"publish_date"`
	Publishers    []string `json:"publishers"`
	NumberOfPages int      `json:"number_of_pages"`
	Subjects      []string `json:"subjects"`
	Series        []string `json:"series"`
}

type openLibrarySearch struct {
	NumFound int `json:"numFound"`
	Docs     []struct {
		Title            string   `json:"title"`
		AuthorName       []string `json:"author_name"`
		FirstPublishYear int      `json:"first_publish_year"`
		Publisher        []string `json:"publisher"`
		Subject          []string `json:"subject"`
		ISBN             []string `json:"isbn"`
	} `json:"docs"`
}

func (o *OpenLibrary) Lookup(ctx context.Context, item model.Item) ([]model.Fact, error) {
	if isbn := cleanISBN(item.ISBN); isbn != "" {
		return o.lookupByISBN(ctx, item, isbn)
	}
	if item.Title == "" {
		return nil, nil
	}
	return o.lookupBySearch(ctx, item)
}

func (o *OpenLibrary) lookupByISBN(ctx context.Context, item model.Item, isbn string) ([]model.Fact, error) {
	payload, err := o.fetch(ctx, o.Source(), "isbn",
		fmt.Sprintf("%s/isbn/%s.json", o.baseURL, isbn), []string{isbn}, nil)
	if err != nil {
		// Open Library answers 404 for an unknown ISBN; that is an empty
		// result, not a failure.
		var pe *resilience.PermanentError
		if errors.As(err, &pe) && pe.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}

	var edition openLibraryEdition
	if err := json.Unmarshal(payload, &edition); err != nil {
		return nil, resilience.NewPermanentError(eris.Wrap(err, "open library: parse edition"), 0)
	}

	const confidence = 0.85
	method := model.MatchExactIdentifier
	itemID := item.Barcode
	facts := []model.Fact{
		o.fact(o.Source(), itemID, model.FieldTitle, edition.Title, confidence, method),
		o.fact(o.Source(), itemID, model.FieldPublisher, first(edition.Publishers), confidence, method),
		o.fact(o.Source(), itemID, model.FieldPubYear, normalize.ExtractYear(edition.PublishDate), confidence, method),
		o.fact(o.Source(), itemID, model.FieldSubjects, strings.Join(edition.Subjects, "; "), confidence, method),
		o.fact(o.Source(), itemID, model.FieldSeriesName, first(edition.Series), confidence, method),
	}
	if edition.NumberOfPages > 0 {
		facts = append(facts,
			o.fact(o.Source(), itemID, model.FieldPhysicalDesc, fmt.Sprintf("%d pages", edition.NumberOfPages), confidence, method))
	}
	return facts, nil
}

func (o *OpenLibrary) lookupBySearch(ctx context.Context, item model.Item) ([]model.Fact, error) {
	title := normalize.SafeQueryTerm(item.Title)
	author := normalize.SafeQueryTerm(item.Author)

	params := url.Values{
		"title": {title},
		"limit": {"1"},
	}
	if author != "" {
		params.Set("author", author)
	}
	payload, err := o.fetch(ctx, o.Source(), "search",
		fmt.Sprintf("%s/search.json?%s", o.baseURL, params.Encode()),
		[]string{title, author}, nil)
	if err != nil {
		return nil, err
	}

	var result openLibrarySearch
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, resilience.NewPermanentError(eris.Wrap(err, "open library: parse search"), 0)
	}
	if result.NumFound == 0 || len(result.Docs) == 0 {
		return nil, nil
	}
	doc := result.Docs[0]

	const confidence = 0.55
	method := model.MatchFuzzySearch
	itemID := item.Barcode
	var pubYear string
	if doc.FirstPublishYear > 0 {
		pubYear = strconv.Itoa(doc.FirstPublishYear)
	}
	facts := []model.Fact{
		o.fact(o.Source(), itemID, model.FieldTitle, doc.Title, confidence, method),
		o.fact(o.Source(), itemID, model.FieldAuthor, strings.Join(doc.AuthorName, "; "), confidence, method),
		o.fact(o.Source(), itemID, model.FieldPublisher, first(doc.Publisher), confidence, method),
		o.fact(o.Source(), itemID, model.FieldPubYear, pubYear, confidence, method),
		o.fact(o.Source(), itemID, model.FieldSubjects, strings.Join(firstN(doc.Subject, 10), "; "), confidence, method),
	}
	if isbn := pickISBN(doc.ISBN); isbn != "" {
		facts = append(facts, o.fact(o.Source(), itemID, model.FieldISBN, isbn, confidence, method))
	}
	return facts, nil
}

func first(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

func firstN(values []string, n int) []string {
	if len(values) <= n {
		return values
	}
	return values[:n]
}

// pickISBN prefers a 13-digit ISBN from the search result's identifier list.
func pickISBN(isbns []string) string {
	var fallback string
	for _, isbn := range isbns {
		cleaned := cleanISBN(isbn)
		if len(cleaned) == 13 {
			return cleaned
		}
		if fallback == "" && cleaned != "" {
			fallback = cleaned
		}
	}
	return fallback
}
