// Package merge links literature records to registry records and produces
// the unified result stream consumed by the search controller.
//
// A PubMed article and a ClinicalTrials.gov study describe the same piece of
// research when the article's databank accession list carries the study's NCT
// number, or the study's references module lists the article's PMID. Records
// matched this way collapse into a single merged item; everything else passes
// through as a single-source item.
package merge

import (
	"github.com/medscope/study-search-service/internal/domain"
)

// Merge combines article and trial result lists into one item stream.
//
// Matching is deterministic: articles are scanned in their given order, each
// claiming the first still-unclaimed trial it links to; a trial is merged at
// most once. The output preserves input order: articles (plain or merged) in
// article order, then unmatched trials in trial order. Merged items default to
// the PubMed half as focus.
func Merge(articles []*domain.Article, trials []*domain.Trial) []domain.SearchResultItem {
	trialByNCT := make(map[string]int, len(trials))
	for idx, t := range trials {
		if t == nil || t.NCTID == "" {
			continue
		}
		id := domain.NormalizeNCTID(t.NCTID)
		if _, exists := trialByNCT[id]; !exists {
			trialByNCT[id] = idx
		}
	}

	// Reverse index: PMID referenced by trial -> trial index.
	trialByPMID := make(map[string]int)
	for idx, t := range trials {
		if t == nil {
			continue
		}
		for _, pmid := range t.ReferencedPMIDs {
			if pmid == "" {
				continue
			}
			if _, exists := trialByPMID[pmid]; !exists {
				trialByPMID[pmid] = idx
			}
		}
	}

	claimed := make(map[int]bool, len(trials))
	items := make([]domain.SearchResultItem, 0, len(articles)+len(trials))

	for _, a := range articles {
		if a == nil {
			continue
		}

		trialIdx, ok := matchTrial(a, trialByNCT, trialByPMID)
		if ok && !claimed[trialIdx] {
			claimed[trialIdx] = true
			items = append(items, domain.SearchResultItem{
				Kind:    domain.KindMerged,
				Focus:   domain.FocusPubMed,
				Article: a,
				Trial:   trials[trialIdx],
			})
			continue
		}

		items = append(items, domain.SearchResultItem{
			Kind:    domain.KindPubMed,
			Article: a,
		})
	}

	for idx, t := range trials {
		if t == nil || claimed[idx] {
			continue
		}
		items = append(items, domain.SearchResultItem{
			Kind:  domain.KindCTG,
			Trial: t,
		})
	}

	return items
}

// matchTrial finds the trial linked to the article, preferring the article's
// own registry numbers over the trial-side back-references.
func matchTrial(a *domain.Article, trialByNCT, trialByPMID map[string]int) (int, bool) {
	for _, nct := range a.NCTNumbers {
		if idx, ok := trialByNCT[domain.NormalizeNCTID(nct)]; ok {
			return idx, true
		}
	}
	if a.PMID != "" {
		if idx, ok := trialByPMID[a.PMID]; ok {
			return idx, true
		}
	}
	return 0, false
}
