package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pmItem(pmid string) SearchResultItem {
	return SearchResultItem{
		Kind:    KindPubMed,
		Article: &Article{PMID: pmid, Title: "article " + pmid, Abstract: "abstract"},
	}
}

func ctgItem(nct string) SearchResultItem {
	return SearchResultItem{
		Kind:  KindCTG,
		Trial: &Trial{NCTID: nct, BriefTitle: "trial " + nct, BriefSummary: "summary"},
	}
}

func mergedItem(pmid, nct string) SearchResultItem {
	return SearchResultItem{
		Kind:    KindMerged,
		Focus:   FocusPubMed,
		Article: &Article{PMID: pmid, Title: "article " + pmid},
		Trial:   &Trial{NCTID: nct, BriefTitle: "trial " + nct},
	}
}

func TestSearchResultItemValidate(t *testing.T) {
	tests := []struct {
		name    string
		item    SearchResultItem
		wantErr bool
	}{
		{name: "valid PM", item: pmItem("123")},
		{name: "valid CTG", item: ctgItem("NCT00000001")},
		{name: "valid merged", item: mergedItem("123", "NCT00000001")},
		{name: "PM with trial", item: SearchResultItem{Kind: KindPubMed, Article: &Article{PMID: "1"}, Trial: &Trial{NCTID: "NCT1"}}, wantErr: true},
		{name: "CTG without trial", item: SearchResultItem{Kind: KindCTG}, wantErr: true},
		{name: "merged missing half", item: SearchResultItem{Kind: KindMerged, Article: &Article{PMID: "1"}}, wantErr: true},
		{name: "unknown kind", item: SearchResultItem{Kind: "BOTH"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.item.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidInput)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestFocusDoubleToggleRestoresItem(t *testing.T) {
	item := mergedItem("42", "NCT00000042")

	toggled := item.WithFocus(item.Focus.Toggled())
	assert.Equal(t, FocusCTG, toggled.Focus)

	back := toggled.WithFocus(toggled.Focus.Toggled())
	assert.Equal(t, item.Focus, back.Focus)
	assert.Equal(t, item, back)
}

func TestWithFocusDoesNotMutateReceiver(t *testing.T) {
	item := mergedItem("42", "NCT00000042")

	_ = item.WithFocus(FocusCTG)
	assert.Equal(t, FocusPubMed, item.Focus, "receiver must not change")
}

func TestWithFocusAffectsOnlyTheGivenItem(t *testing.T) {
	items := []SearchResultItem{
		mergedItem("1", "NCT1"),
		mergedItem("2", "NCT2"),
		pmItem("3"),
	}

	items[0] = items[0].WithFocus(FocusCTG)

	assert.Equal(t, FocusCTG, items[0].Focus)
	assert.Equal(t, FocusPubMed, items[1].Focus, "focus is per item, not page global")
}

func TestWithFocusOnSingleSourceItemIsNoop(t *testing.T) {
	item := pmItem("7")
	assert.Equal(t, item, item.WithFocus(FocusCTG))
}

func TestFlattenProjectsFocusedHalf(t *testing.T) {
	item := mergedItem("99", "NCT00000099")

	pm := item.Flatten()
	assert.Equal(t, SourceTypePubMed, pm.Source)
	assert.Equal(t, "99", pm.ID)
	assert.Equal(t, "NCT00000099", pm.Secondary)
	assert.True(t, pm.Merged)

	ctg := item.WithFocus(FocusCTG).Flatten()
	assert.Equal(t, SourceTypeCTG, ctg.Source)
	assert.Equal(t, "NCT00000099", ctg.ID)
	assert.Equal(t, "99", ctg.Secondary)
	assert.True(t, ctg.Merged)

	// Flatten must not mutate the underlying item.
	assert.Equal(t, FocusPubMed, item.Focus)
}

func TestCountResults(t *testing.T) {
	items := []SearchResultItem{
		pmItem("1"), pmItem("2"),
		ctgItem("NCT1"),
		mergedItem("3", "NCT2"),
	}

	counts := CountResults(items)
	assert.Equal(t, ResultCounts{PubMed: 2, CTG: 1, Merged: 1, Total: 4}, counts)
}

func TestItemID(t *testing.T) {
	assert.Equal(t, "5", pmItem("5").ID())
	assert.Equal(t, "NCT5", ctgItem("NCT5").ID())

	m := mergedItem("5", "NCT5")
	assert.Equal(t, "5", m.ID())
	assert.Equal(t, "NCT5", m.WithFocus(FocusCTG).ID())
}
