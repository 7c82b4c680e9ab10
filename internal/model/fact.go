package model

import "time"

// FieldName is a bibliographic field a source can assert a value for. The
// set is closed; adapters never invent field names.
type FieldName string

const (
	FieldTitle        FieldName = "title"
	FieldAuthor       FieldName = "author"
	FieldISBN         FieldName = "isbn"
	FieldLCCN         FieldName = "lccn"
	FieldClass        FieldName = "classification"
	FieldPublisher    FieldName = "publisher"
	FieldSubjects     FieldName = "subjects"
	FieldSeriesName   FieldName = "series_name"
	FieldSeriesVolume FieldName = "series_volume"
	FieldPubYear      FieldName = "publication_year"
	FieldDescription  FieldName = "description"
	FieldPhysicalDesc FieldName = "physical_description"
	FieldPrice        FieldName = "price"
)

// MatchMethod records how a source located the item. An exact identifier
// lookup (ISBN, LCCN) is strictly more trustworthy than a fuzzy title/author
// search, regardless of the source's tier.
type MatchMethod string

const (
	MatchExactIdentifier MatchMethod = "exact_identifier"
	MatchFuzzySearch     MatchMethod = "fuzzy_search"
)

// Fact is a single field-value assertion about an item from one source.
// Facts are append-only: corrections are new facts with a newer ObservedAt,
// never in-place edits.
type Fact struct {
	ItemID     string      `json:"item_id"`
	Field      FieldName   `json:"field"`
	Value      string      `json:"value"`
	Source     Source      `json:"source"`
	Confidence float64     `json:"confidence"`
	Method     MatchMethod `json:"method"`
	ObservedAt time.Time   `json:"observed_at"`
}
