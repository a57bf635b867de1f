package domain

import "fmt"

// ResultKind tags the shape of a search result item.
type ResultKind string

const (
	// KindPubMed marks an item found only in PubMed.
	KindPubMed ResultKind = "PM"

	// KindCTG marks an item found only in ClinicalTrials.gov.
	KindCTG ResultKind = "CTG"

	// KindMerged marks an item found in both sources and linked by
	// cross-reference identifiers.
	KindMerged ResultKind = "MERGED"
)

// MergeFocus selects which half of a merged item is primary for display.
// Focus is carried per item rather than as a page-global flag, so toggling
// one merged record leaves the others untouched.
type MergeFocus string

const (
	// FocusPubMed makes the PubMed half primary.
	FocusPubMed MergeFocus = "PM"

	// FocusCTG makes the ClinicalTrials.gov half primary.
	FocusCTG MergeFocus = "CTG"
)

// Toggled returns the opposite focus. Applying it twice yields the original
// value.
func (f MergeFocus) Toggled() MergeFocus {
	if f == FocusPubMed {
		return FocusCTG
	}
	return FocusPubMed
}

// SearchResultItem is a tagged union over {PM, CTG, MERGED}. Exactly one of
// {Article only, Trial only, both} is populated depending on Kind.
type SearchResultItem struct {
	Kind  ResultKind `json:"kind"`
	Focus MergeFocus `json:"focus,omitempty"`

	Article *Article `json:"article,omitempty"`
	Trial   *Trial   `json:"trial,omitempty"`
}

// Validate checks the union invariant for the item's kind.
func (i *SearchResultItem) Validate() error {
	switch i.Kind {
	case KindPubMed:
		if i.Article == nil || i.Trial != nil {
			return fmt.Errorf("%w: PM item must populate article fields only", ErrInvalidInput)
		}
	case KindCTG:
		if i.Trial == nil || i.Article != nil {
			return fmt.Errorf("%w: CTG item must populate trial fields only", ErrInvalidInput)
		}
	case KindMerged:
		if i.Article == nil || i.Trial == nil {
			return fmt.Errorf("%w: merged item must populate both sub-records", ErrInvalidInput)
		}
	default:
		return fmt.Errorf("%w: unknown result kind %q", ErrInvalidInput, i.Kind)
	}
	return nil
}

// ID returns the item's primary identifier: PMID for PM items, NCT number for
// CTG items, and the focused half's identifier for merged items.
func (i SearchResultItem) ID() string {
	switch i.Kind {
	case KindPubMed:
		return i.Article.PMID
	case KindCTG:
		return i.Trial.NCTID
	case KindMerged:
		if i.Focus == FocusCTG {
			return i.Trial.NCTID
		}
		return i.Article.PMID
	}
	return ""
}

// WithFocus returns a copy of the item with the given merge focus. The
// receiver is not mutated and the sub-records are shared, not copied; callers
// must treat them as read-only. Non-merged items are returned unchanged.
func (i SearchResultItem) WithFocus(focus MergeFocus) SearchResultItem {
	if i.Kind != KindMerged {
		return i
	}
	i.Focus = focus
	return i
}

// DisplayRecord is the flattened projection of one result item used for list
// rendering. It owns copies of the projected fields, never pointers into the
// underlying item.
type DisplayRecord struct {
	Source    SourceType `json:"source"`
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Snippet   string     `json:"snippet,omitempty"`
	Secondary string     `json:"secondary_id,omitempty"`
	Merged    bool       `json:"merged"`
}

// Flatten projects the item onto a DisplayRecord. For merged items the focused
// half dominates and the other half's identifier is surfaced as Secondary.
func (i SearchResultItem) Flatten() DisplayRecord {
	switch i.Kind {
	case KindCTG:
		return trialRecord(i.Trial, "", false)
	case KindMerged:
		if i.Focus == FocusCTG {
			return trialRecord(i.Trial, i.Article.PMID, true)
		}
		return articleRecord(i.Article, i.Trial.NCTID, true)
	default:
		return articleRecord(i.Article, "", false)
	}
}

func articleRecord(a *Article, secondary string, merged bool) DisplayRecord {
	return DisplayRecord{
		Source:    SourceTypePubMed,
		ID:        a.PMID,
		Title:     a.Title,
		Snippet:   a.Abstract,
		Secondary: secondary,
		Merged:    merged,
	}
}

func trialRecord(t *Trial, secondary string, merged bool) DisplayRecord {
	return DisplayRecord{
		Source:    SourceTypeCTG,
		ID:        t.NCTID,
		Title:     t.BriefTitle,
		Snippet:   t.BriefSummary,
		Secondary: secondary,
		Merged:    merged,
	}
}

// ResultCounts summarizes a result page by item kind.
type ResultCounts struct {
	PubMed int `json:"pubmed"`
	CTG    int `json:"ctg"`
	Merged int `json:"merged"`
	Total  int `json:"total"`
}

// CountResults tallies items by kind.
func CountResults(items []SearchResultItem) ResultCounts {
	var c ResultCounts
	for i := range items {
		switch items[i].Kind {
		case KindPubMed:
			c.PubMed++
		case KindCTG:
			c.CTG++
		case KindMerged:
			c.Merged++
		}
	}
	c.Total = len(items)
	return c
}

// ResultPage is one page of merged search results.
type ResultPage struct {
	Items      []SearchResultItem `json:"items"`
	Counts     ResultCounts       `json:"counts"`
	Page       int                `json:"page"`
	PageSize   int                `json:"page_size"`
	TotalPages int                `json:"total_pages"`

	// RefinedQuery is the model-refined query used for this page, if any.
	RefinedQuery string `json:"refined_query,omitempty"`
}
