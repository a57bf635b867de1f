package merge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medscope/study-search-service/internal/domain"
)

func article(pmid string, ncts ...string) *domain.Article {
	return &domain.Article{
		PMID:       pmid,
		Title:      "Article " + pmid,
		NCTNumbers: ncts,
	}
}

func trial(nctID string, pmids ...string) *domain.Trial {
	return &domain.Trial{
		NCTID:           nctID,
		BriefTitle:      "Trial " + nctID,
		ReferencedPMIDs: pmids,
	}
}

func TestMerge_LinkByArticleNCTNumber(t *testing.T) {
	articles := []*domain.Article{article("100", "NCT00000001"), article("200")}
	trials := []*domain.Trial{trial("NCT00000001"), trial("NCT00000002")}

	items := Merge(articles, trials)
	require.Len(t, items, 3)

	assert.Equal(t, domain.KindMerged, items[0].Kind)
	assert.Equal(t, domain.FocusPubMed, items[0].Focus)
	assert.Equal(t, "100", items[0].Article.PMID)
	assert.Equal(t, "NCT00000001", items[0].Trial.NCTID)

	assert.Equal(t, domain.KindPubMed, items[1].Kind)
	assert.Equal(t, "200", items[1].Article.PMID)

	assert.Equal(t, domain.KindCTG, items[2].Kind)
	assert.Equal(t, "NCT00000002", items[2].Trial.NCTID)

	for i := range items {
		assert.NoError(t, items[i].Validate())
	}
}

func TestMerge_LinkByTrialReference(t *testing.T) {
	articles := []*domain.Article{article("300")}
	trials := []*domain.Trial{trial("NCT00000003", "300")}

	items := Merge(articles, trials)
	require.Len(t, items, 1)
	assert.Equal(t, domain.KindMerged, items[0].Kind)
	assert.Equal(t, "300", items[0].Article.PMID)
	assert.Equal(t, "NCT00000003", items[0].Trial.NCTID)
}

func TestMerge_NormalizesNCTIDs(t *testing.T) {
	articles := []*domain.Article{article("400", "nct00000004 ")}
	trials := []*domain.Trial{trial("NCT00000004")}

	items := Merge(articles, trials)
	require.Len(t, items, 1)
	assert.Equal(t, domain.KindMerged, items[0].Kind)
}

func TestMerge_TrialClaimedOnce(t *testing.T) {
	// Two articles reference the same trial; only the first merges.
	articles := []*domain.Article{
		article("500", "NCT00000005"),
		article("501", "NCT00000005"),
	}
	trials := []*domain.Trial{trial("NCT00000005")}

	items := Merge(articles, trials)
	require.Len(t, items, 2)
	assert.Equal(t, domain.KindMerged, items[0].Kind)
	assert.Equal(t, "500", items[0].Article.PMID)
	assert.Equal(t, domain.KindPubMed, items[1].Kind)
	assert.Equal(t, "501", items[1].Article.PMID)
}

func TestMerge_NoMatches(t *testing.T) {
	articles := []*domain.Article{article("600")}
	trials := []*domain.Trial{trial("NCT00000006")}

	items := Merge(articles, trials)
	require.Len(t, items, 2)
	assert.Equal(t, domain.KindPubMed, items[0].Kind)
	assert.Equal(t, domain.KindCTG, items[1].Kind)

	counts := domain.CountResults(items)
	assert.Equal(t, 1, counts.PubMed)
	assert.Equal(t, 1, counts.CTG)
	assert.Equal(t, 0, counts.Merged)
	assert.Equal(t, 2, counts.Total)
}

func TestMerge_EmptyInputs(t *testing.T) {
	assert.Empty(t, Merge(nil, nil))

	items := Merge(nil, []*domain.Trial{trial("NCT00000007")})
	require.Len(t, items, 1)
	assert.Equal(t, domain.KindCTG, items[0].Kind)

	items = Merge([]*domain.Article{article("700")}, nil)
	require.Len(t, items, 1)
	assert.Equal(t, domain.KindPubMed, items[0].Kind)
}

func TestMerge_SkipsNilAndBlankRecords(t *testing.T) {
	articles := []*domain.Article{nil, article("800")}
	trials := []*domain.Trial{nil, {BriefTitle: "no id"}, trial("NCT00000008")}

	items := Merge(articles, trials)
	require.Len(t, items, 3)
	assert.Equal(t, domain.KindPubMed, items[0].Kind)
	// Trial without an NCT number still passes through as a CTG item
	assert.Equal(t, domain.KindCTG, items[1].Kind)
	assert.Equal(t, domain.KindCTG, items[2].Kind)
}

func TestMerge_Deterministic(t *testing.T) {
	articles := []*domain.Article{
		article("900", "NCT00000009"),
		article("901"),
	}
	trials := []*domain.Trial{
		trial("NCT00000009"),
		trial("NCT00000010"),
	}

	first := Merge(articles, trials)
	second := Merge(articles, trials)
	assert.Equal(t, first, second)
}
