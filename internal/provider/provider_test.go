package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openshelf/bibcat/internal/cache"
	"github.com/openshelf/bibcat/internal/fetcher"
	"github.com/openshelf/bibcat/internal/model"
	"github.com/openshelf/bibcat/internal/resilience"
)

type memBackend struct {
	entries map[string][]byte
}

func (m *memBackend) GetCacheEntry(_ context.Context, fp string) ([]byte, bool, error) {
	payload, ok := m.entries[fp]
	return payload, ok, nil
}

func (m *memBackend) PutCacheEntry(_ context.Context, fp string, payload []byte) error {
	m.entries[fp] = payload
	return nil
}

func newTestCache() *cache.Cache {
	return cache.New(&memBackend{entries: map[string][]byte{}})
}

// noRetry keeps adapter tests fast: one attempt, no sleeps.
var noRetry = resilience.RetryConfig{MaxAttempts: 1}

func testFacts(facts []model.Fact) map[model.FieldName]model.Fact {
	out := make(map[model.FieldName]model.Fact, len(facts))
	for _, f := range facts {
		if f.Value == "" {
			continue
		}
		out[f.Field] = f
	}
	return out
}

// --- Registry ---

func TestRegistry_SelectAll(t *testing.T) {
	g := NewGoogleBooks(fetcher.NewClient(fetcher.Options{}), newTestCache(), noRetry)
	l := NewLibraryOfCongress(fetcher.NewClient(fetcher.Options{}), newTestCache(), noRetry)
	r := NewRegistry(g, l)

	all, err := r.Select(nil)
	require.NoError(t, err)
	require.Len(t, all, 2)
	// Sorted by source name.
	assert.Equal(t, model.SourceGoogleBooks, all[0].Source())
	assert.Equal(t, model.SourceLibraryOfCongress, all[1].Source())
}

func TestRegistry_SelectUnknown(t *testing.T) {
	r := NewRegistry(NewGoogleBooks(fetcher.NewClient(fetcher.Options{}), newTestCache(), noRetry))

	_, err := r.Select([]string{"goodreads"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown adapter")
}

// --- Google Books ---

const googleVolumeJSON = `{
	"totalItems": 1,
	"items": [{"volumeInfo": {
		"title": "The Fellowship of the Ring",
		"authors": ["J. R. R. Tolkien"],
		"publisher": "Houghton Mifflin",
		"publishedDate": "1994-08-15",
		"description": "The first part of the trilogy.",
		"categories": ["Fiction", "Fantasy"],
		"pageCount": 432,
		"industryIdentifiers": [
			{"type": "ISBN_10", "identifier": "0618002227"},
			{"type": "ISBN_13", "identifier": "9780618002221"}
		],
		"seriesInfo": {
			"bookDisplayNumber": "1",
			"series": [{"title": "The Lord of the Rings"}]
		}
	}}]
}`

func TestGoogleBooks_LookupByISBN(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Contains(t, r.URL.Query().Get("q"), "isbn:9780618002221")
		_, _ = w.Write([]byte(googleVolumeJSON))
	}))
	defer srv.Close()

	g := NewGoogleBooks(fetcher.NewClient(fetcher.Options{}), newTestCache(), noRetry)
	g.baseURL = srv.URL

	item := model.Item{Barcode: "B000001", ISBN: "978-0-618-00222-1"}
	facts, err := g.Lookup(context.Background(), item)
	require.NoError(t, err)

	byField := testFacts(facts)
	assert.Equal(t, "The Fellowship of the Ring", byField[model.FieldTitle].Value)
	assert.Equal(t, "J. R. R. Tolkien", byField[model.FieldAuthor].Value)
	assert.Equal(t, "1994", byField[model.FieldPubYear].Value)
	assert.Equal(t, "Fiction; Fantasy", byField[model.FieldSubjects].Value)
	assert.Equal(t, "The Lord of the Rings", byField[model.FieldSeriesName].Value)
	assert.Equal(t, "1", byField[model.FieldSeriesVolume].Value)
	assert.Equal(t, "9780618002221", byField[model.FieldISBN].Value)
	assert.Equal(t, "432 pages", byField[model.FieldPhysicalDesc].Value)

	for _, f := range facts {
		assert.Equal(t, model.SourceGoogleBooks, f.Source)
		assert.Equal(t, model.MatchExactIdentifier, f.Method)
		assert.InDelta(t, 0.9, f.Confidence, 0.001)
	}

	// Second lookup must be served from cache.
	_, err = g.Lookup(context.Background(), item)
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())
}

func TestGoogleBooks_LookupFuzzy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query().Get("q")
		assert.Contains(t, q, "intitle:")
		assert.Contains(t, q, "inauthor:")
		_, _ = w.Write([]byte(googleVolumeJSON))
	}))
	defer srv.Close()

	g := NewGoogleBooks(fetcher.NewClient(fetcher.Options{}), newTestCache(), noRetry)
	g.baseURL = srv.URL

	facts, err := g.Lookup(context.Background(), model.Item{
		Barcode: "B000002", Title: "The Fellowship of the Ring", Author: "Tolkien",
	})
	require.NoError(t, err)
	require.NotEmpty(t, facts)
	for _, f := range facts {
		assert.Equal(t, model.MatchFuzzySearch, f.Method)
		assert.InDelta(t, 0.6, f.Confidence, 0.001)
	}
}

func TestGoogleBooks_NoMatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"totalItems": 0}`))
	}))
	defer srv.Close()

	g := NewGoogleBooks(fetcher.NewClient(fetcher.Options{}), newTestCache(), noRetry)
	g.baseURL = srv.URL

	facts, err := g.Lookup(context.Background(), model.Item{Barcode: "B000003", ISBN: "9780000000000"})
	require.NoError(t, err)
	assert.Empty(t, facts)
}

func TestGoogleBooks_NoIdentifiersNoTitle(t *testing.T) {
	g := NewGoogleBooks(fetcher.NewClient(fetcher.Options{}), newTestCache(), noRetry)

	facts, err := g.Lookup(context.Background(), model.Item{Barcode: "B000004"})
	require.NoError(t, err)
	assert.Nil(t, facts)
}

// --- Library of Congress ---

const locMARCXML = `<?xml version="1.0"?>
<zs:searchRetrieveResponse xmlns:zs="http://www.loc.gov/zing/srw/">
	<zs:numberOfRecords>1</zs:numberOfRecords>
	<zs:records><zs:record><zs:recordData>
		<record xmlns="http://www.loc.gov/MARC21/slim">
			<datafield tag="010"><subfield code="a">   92030369</subfield></datafield>
			<datafield tag="020"><subfield code="a">0618002227</subfield><subfield code="c">$22.00</subfield></datafield>
			<datafield tag="082"><subfield code="a">823/.912</subfield></datafield>
			<datafield tag="100"><subfield code="a">Tolkien, J. R. R.</subfield></datafield>
			<datafield tag="245"><subfield code="a">The fellowship of the ring /</subfield></datafield>
			<datafield tag="264"><subfield code="b">Houghton Mifflin,</subfield><subfield code="c">1994, c1954.</subfield></datafield>
			<datafield tag="300"><subfield code="a">423 p. ; 21 cm.</subfield></datafield>
			<datafield tag="490"><subfield code="a">The lord of the rings ;</subfield><subfield code="v">pt. 1</subfield></datafield>
			<datafield tag="650"><subfield code="a">Middle Earth (Imaginary place)</subfield></datafield>
			<datafield tag="655"><subfield code="a">Fantasy fiction.</subfield></datafield>
		</record>
	</zs:recordData></zs:record></zs:records>
</zs:searchRetrieveResponse>`

func TestLOC_LookupByISBN(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "searchRetrieve", q.Get("operation"))
		assert.Equal(t, "marcxml", q.Get("recordSchema"))
		assert.Contains(t, q.Get("query"), "bath.isbn")
		_, _ = w.Write([]byte(locMARCXML))
	}))
	defer srv.Close()

	l := NewLibraryOfCongress(fetcher.NewClient(fetcher.Options{}), newTestCache(), noRetry)
	l.baseURL = srv.URL

	facts, err := l.Lookup(context.Background(), model.Item{Barcode: "B000001", ISBN: "0618002227"})
	require.NoError(t, err)

	byField := testFacts(facts)
	assert.Equal(t, "The fellowship of the ring", byField[model.FieldTitle].Value)
	assert.Equal(t, "Tolkien, J. R. R", byField[model.FieldAuthor].Value)
	assert.Equal(t, "92030369", byField[model.FieldLCCN].Value)
	assert.Equal(t, "823/.912", byField[model.FieldClass].Value)
	assert.Equal(t, "Houghton Mifflin", byField[model.FieldPublisher].Value)
	assert.Equal(t, "1954", byField[model.FieldPubYear].Value)
	assert.Equal(t, "423 p. ; 21 cm.", byField[model.FieldPhysicalDesc].Value)
	assert.Equal(t, "The lord of the rings", byField[model.FieldSeriesName].Value)
	assert.Equal(t, "pt. 1", byField[model.FieldSeriesVolume].Value)
	assert.Equal(t, "Middle Earth (Imaginary place); Fantasy fiction", byField[model.FieldSubjects].Value)
	assert.Equal(t, "$22.00", byField[model.FieldPrice].Value)

	for _, f := range facts {
		assert.Equal(t, model.MatchExactIdentifier, f.Method)
		assert.InDelta(t, 0.95, f.Confidence, 0.001)
	}
}

func TestLOC_ClassificationFallsBackToLCC(t *testing.T) {
	const xml = `<?xml version="1.0"?>
<zs:searchRetrieveResponse xmlns:zs="http://www.loc.gov/zing/srw/">
	<zs:numberOfRecords>1</zs:numberOfRecords>
	<zs:records><zs:record><zs:recordData>
		<record xmlns="http://www.loc.gov/MARC21/slim">
			<datafield tag="050"><subfield code="a">PZ7.T576</subfield></datafield>
			<datafield tag="245"><subfield code="a">Some title</subfield></datafield>
		</record>
	</zs:recordData></zs:record></zs:records>
</zs:searchRetrieveResponse>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(xml))
	}))
	defer srv.Close()

	l := NewLibraryOfCongress(fetcher.NewClient(fetcher.Options{}), newTestCache(), noRetry)
	l.baseURL = srv.URL

	facts, err := l.Lookup(context.Background(), model.Item{Barcode: "B000005", ISBN: "9780000000001"})
	require.NoError(t, err)
	assert.Equal(t, "FIC", testFacts(facts)[model.FieldClass].Value)
}

func TestLOC_DiagnosticNotCached(t *testing.T) {
	const diagXML = `<?xml version="1.0"?>
<zs:searchRetrieveResponse xmlns:zs="http://www.loc.gov/zing/srw/">
	<zs:diagnostics><diagnostic xmlns="http://www.loc.gov/zing/srw/diagnostic/">
		<message>Intermittent server problem</message>
	</diagnostic></zs:diagnostics>
</zs:searchRetrieveResponse>`

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(diagXML))
	}))
	defer srv.Close()

	l := NewLibraryOfCongress(fetcher.NewClient(fetcher.Options{}), newTestCache(), noRetry)
	l.baseURL = srv.URL

	item := model.Item{Barcode: "B000006", ISBN: "9780000000002"}
	_, err := l.Lookup(context.Background(), item)
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))

	// The diagnostic response must not have been cached; the next lookup
	// goes back to the network.
	_, err = l.Lookup(context.Background(), item)
	require.Error(t, err)
	assert.Equal(t, int32(2), hits.Load())
}

func TestLOC_NoRecords(t *testing.T) {
	const emptyXML = `<?xml version="1.0"?>
<zs:searchRetrieveResponse xmlns:zs="http://www.loc.gov/zing/srw/">
	<zs:numberOfRecords>0</zs:numberOfRecords>
</zs:searchRetrieveResponse>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(emptyXML))
	}))
	defer srv.Close()

	l := NewLibraryOfCongress(fetcher.NewClient(fetcher.Options{}), newTestCache(), noRetry)
	l.baseURL = srv.URL

	facts, err := l.Lookup(context.Background(), model.Item{Barcode: "B000007", ISBN: "9780000000003"})
	require.NoError(t, err)
	assert.Empty(t, facts)
}

// --- Open Library ---

func TestOpenLibrary_LookupByISBN(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/isbn/9780618002221.json", r.URL.Path)
		_, _ = w.Write([]byte(`{
			"title": "The Fellowship of the Ring",
			"publish_date": "August 15, 1994",
			"publishers": ["Houghton Mifflin"],
			"number_of_pages": 432,
			"subjects": ["Fantasy", "Quests"],
			"series": ["The Lord of the Rings"]
		}`))
	}))
	defer srv.Close()

	o := NewOpenLibrary(fetcher.NewClient(fetcher.Options{}), newTestCache(), noRetry)
	o.baseURL = srv.URL

	facts, err := o.Lookup(context.Background(), model.Item{Barcode: "B000001", ISBN: "978-0-618-00222-1"})
	require.NoError(t, err)

	byField := testFacts(facts)
	assert.Equal(t, "The Fellowship of the Ring", byField[model.FieldTitle].Value)
	assert.Equal(t, "Houghton Mifflin", byField[model.FieldPublisher].Value)
	assert.Equal(t, "1994", byField[model.FieldPubYear].Value)
	assert.Equal(t, "Fantasy; Quests", byField[model.FieldSubjects].Value)
	assert.Equal(t, "The Lord of the Rings", byField[model.FieldSeriesName].Value)
	assert.Equal(t, "432 pages", byField[model.FieldPhysicalDesc].Value)

	for _, f := range facts {
		assert.Equal(t, model.MatchExactIdentifier, f.Method)
		assert.InDelta(t, 0.85, f.Confidence, 0.001)
	}
}

func TestOpenLibrary_UnknownISBNIsEmptyResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	o := NewOpenLibrary(fetcher.NewClient(fetcher.Options{}), newTestCache(), noRetry)
	o.baseURL = srv.URL

	facts, err := o.Lookup(context.Background(), model.Item{Barcode: "B000002", ISBN: "9780000000009"})
	require.NoError(t, err)
	assert.Empty(t, facts)
}

func TestOpenLibrary_LookupFuzzy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search.json", r.URL.Path)
		assert.NotEmpty(t, r.URL.Query().Get("title"))
		_, _ = w.Write([]byte(`{
			"numFound": 1,
			"docs": [{
				"title": "The Fellowship of the Ring",
				"author_name": ["J. R. R. Tolkien"],
				"first_publish_year": 1954,
				"publisher": ["Allen & Unwin"],
				"subject": ["Fantasy"],
				"isbn": ["0618002227", "9780618002221"]
			}]
		}`))
	}))
	defer srv.Close()

	o := NewOpenLibrary(fetcher.NewClient(fetcher.Options{}), newTestCache(), noRetry)
	o.baseURL = srv.URL

	facts, err := o.Lookup(context.Background(), model.Item{
		Barcode: "B000003", Title: "The Fellowship of the Ring", Author: "Tolkien",
	})
	require.NoError(t, err)

	byField := testFacts(facts)
	assert.Equal(t, "J. R. R. Tolkien", byField[model.FieldAuthor].Value)
	assert.Equal(t, "1954", byField[model.FieldPubYear].Value)
	assert.Equal(t, "9780618002221", byField[model.FieldISBN].Value)

	for _, f := range facts {
		assert.Equal(t, model.MatchFuzzySearch, f.Method)
		assert.InDelta(t, 0.55, f.Confidence, 0.001)
	}
}
