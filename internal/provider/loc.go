package provider

import (
	"context"
	"encoding/xml"
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

const locBaseURL = "http://lx2.loc.gov:210/LCDB"

// LibraryOfCongress looks items up through the LOC SRU interface and parses
// the MARCXML records it returns.
type LibraryOfCongress struct {
	client
	baseURL string
}

// NewLibraryOfCongress creates the LOC adapter.
func NewLibraryOfCongress(http *fetcher.Client, c *cache.Cache, retry resilience.RetryConfig) *LibraryOfCongress {
	return &LibraryOfCongress{client: newClient(http, c, retry), baseURL: locBaseURL}
}

func (l *LibraryOfCongress) Source() model.Source {
	return model.SourceLibraryOfCongress
}

type sruResponse struct {
	NumberOfRecords int          `xml:"numberOfRecords"`
	Diagnostic      string       `xml:"diagnostics>diagnostic>message"`
	Records         []marcRecord `xml:"records>record>recordData>record"`
}

type marcRecord struct {
	DataFields []marcDataField `xml:"datafield"`
}

type marcDataField struct {
	Tag       string         `xml:"tag,attr"`
	Subfields []marcSubfield `xml:"subfield"`
}

type marcSubfield struct {
	Code string `xml:"code,attr"`
	Text string `xml:",chardata"`
}

// subfield returns the first value for tag/code across the record.
func (r *marcRecord) subfield(tag, code string) string {
	for _, df := range r.DataFields {
		if df.Tag != tag {
			continue
		}
		for _, sf := range df.Subfields {
			if sf.Code == code {
				return strings.TrimSpace(sf.Text)
			}
		}
	}
	return ""
}

// subfields returns every value for tag/code across the record.
func (r *marcRecord) subfields(tag, code string) []string {
	var out []string
	for _, df := range r.DataFields {
		if df.Tag != tag {
			continue
		}
		for _, sf := range df.Subfields {
			if sf.Code == code {
				out = append(out, strings.TrimSpace(sf.Text))
			}
		}
	}
	return out
}

func (l *LibraryOfCongress) Lookup(ctx context.Context, item model.Item) ([]model.Fact, error) {
	isbn := cleanISBN(item.ISBN)

	var (
		query  string
		op     string
		terms  []string
		method model.MatchMethod
	)
	if isbn != "" {
		method = model.MatchExactIdentifier
		op = "isbn"
		query = fmt.Sprintf(`bath.isbn=%q`, isbn)
		terms = []string{isbn}
	} else {
		if item.Title == "" {
			return nil, nil
		}
		method = model.MatchFuzzySearch
		op = "search"
		title := normalize.SafeQueryTerm(item.Title)
		author := normalize.SafeQueryTerm(item.Author)
		query = fmt.Sprintf(`bath.title=%q`, title)
		if author != "" {
			query += fmt.Sprintf(` and bath.author=%q`, author)
		}
		terms = []string{title, author}
	}

	params := url.Values{
		"version":        {"1.1"},
		"operation":      {"searchRetrieve"},
		"query":          {query},
		"maximumRecords": {"1"},
		"recordSchema":   {"marcxml"},
	}
	payload, err := l.fetch(ctx, l.Source(), op,
		l.baseURL+"?"+params.Encode(), terms, validateSRU)
	if err != nil {
		return nil, err
	}

	var resp sruResponse
	if err := xml.Unmarshal(payload, &resp); err != nil {
		return nil, resilience.NewPermanentError(eris.Wrap(err, "loc: parse marcxml"), 0)
	}
	if resp.NumberOfRecords == 0 || len(resp.Records) == 0 {
		return nil, nil
	}
	rec := resp.Records[0]

	confidence := 0.95
	if method == model.MatchFuzzySearch {
		confidence = 0.7
	}

	pubYear := rec.subfield("264", "c")
	if pubYear == "" {
		pubYear = rec.subfield("260", "c")
	}
	publisher := rec.subfield("264", "b")
	if publisher == "" {
		publisher = rec.subfield("260", "b")
	}
	classification := rec.subfield("082", "a")
	if classification == "" {
		classification = normalize.LCCToDDC(rec.subfield("050", "a"))
	}
	subjects := append(rec.subfields("650", "a"), rec.subfields("655", "a")...)
	for i, s := range subjects {
		subjects[i] = strings.TrimRight(s, ".")
	}

	itemID := item.Barcode
	facts := []model.Fact{
		l.fact(l.Source(), itemID, model.FieldTitle, strings.TrimRight(rec.subfield("245", "a"), " /:;,"), confidence, method),
		l.fact(l.Source(), itemID, model.FieldAuthor, normalize.CleanAuthor(strings.TrimRight(rec.subfield("100", "a"), " .,")), confidence, method),
		l.fact(l.Source(), itemID, model.FieldLCCN, normalize.CleanCallNumber(rec.subfield("010", "a")), confidence, method),
		l.fact(l.Source(), itemID, model.FieldClass, normalize.CleanCallNumber(classification), confidence, method),
		l.fact(l.Source(), itemID, model.FieldPublisher, strings.TrimRight(publisher, " ,"), confidence, method),
		l.fact(l.Source(), itemID, model.FieldPubYear, normalize.ExtractYear(pubYear), confidence, method),
		l.fact(l.Source(), itemID, model.FieldPhysicalDesc, rec.subfield("300", "a"), confidence, method),
		l.fact(l.Source(), itemID, model.FieldSeriesName, strings.TrimRight(rec.subfield("490", "a"), " ;"), confidence, method),
		l.fact(l.Source(), itemID, model.FieldSeriesVolume, rec.subfield("490", "v"), confidence, method),
		l.fact(l.Source(), itemID, model.FieldSubjects, strings.Join(subjects, "; "), confidence, method),
		l.fact(l.Source(), itemID, model.FieldPrice, rec.subfield("020", "c"), confidence, method),
	}
	if isbn == "" {
		if found := cleanISBN(rec.subfield("020", "a")); found != "" {
			facts = append(facts, l.fact(l.Source(), itemID, model.FieldISBN, found, confidence, method))
		}
	}
	return facts, nil
}

// validateSRU rejects responses carrying an SRU diagnostic so they are not
// cached as successes. Diagnostics flagged intermittent by LOC are
// transient; everything else means the query itself is bad.
func validateSRU(payload []byte) error {
	var resp sruResponse
	if err := xml.Unmarshal(payload, &resp); err != nil {
		return resilience.NewPermanentError(eris.Wrap(err, "loc: parse marcxml"), 0)
	}
	if resp.Diagnostic == "" {
		return nil
	}
	err := eris.Errorf("loc: sru diagnostic: %s", resp.Diagnostic)
	if strings.Contains(strings.ToLower(resp.Diagnostic), "intermittent") {
		return resilience.NewTransientError(err, 0)
	}
	return resilience.NewPermanentError(err, 0)
}
