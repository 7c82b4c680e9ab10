package model

// Source identifies a data provider. The set is fixed at configuration time;
// each source carries a static reliability tier used as a tie-break during
// reconciliation.
type Source string

const (
	// SourceLocalMARC is the local catalog extraction that seeds each item.
	SourceLocalMARC Source = "local_marc"
	// SourceLibraryOfCongress is the LOC SRU bibliographic registry.
	SourceLibraryOfCongress Source = "library_of_congress"
	// SourceGoogleBooks is the Google Books volumes API.
	SourceGoogleBooks Source = "google_books"
	// SourceOpenLibrary is the Open Library search API.
	SourceOpenLibrary Source = "open_library"
	// SourceGenerativeResearch is the language-model research adapter. It
	// fills narrative fields the registries rarely carry and never outranks
	// a registry answer.
	SourceGenerativeResearch Source = "generative_research"
)

// defaultTiers ranks sources by innate reliability: authoritative registries
// above structured aggregators above heuristic extractions. A source-policy
// file may override these.
var defaultTiers = map[Source]int{
	SourceLibraryOfCongress:  3,
	SourceGoogleBooks:        2,
	SourceOpenLibrary:        2,
	SourceLocalMARC:          1,
	SourceGenerativeResearch: 1,
}

// Tier returns the source's default reliability tier. Unknown sources rank
// below every configured one.
func (s Source) Tier() int {
	return defaultTiers[s]
}

// KnownSources lists every configured source in tier order (highest first).
func KnownSources() []Source {
	return []Source{
		SourceLibraryOfCongress,
		SourceGoogleBooks,
		SourceOpenLibrary,
		SourceLocalMARC,
		SourceGenerativeResearch,
	}
}
