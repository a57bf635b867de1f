package httpserver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medscope/study-search-service/internal/domain"
)

func detailedTrial() *domain.Trial {
	t := testTrial("NCT01000001")
	t.StructuredInfo = &domain.StudySections{
		NCTID:        "NCT01000001",
		BriefTitle:   t.BriefTitle,
		BriefSummary: t.BriefSummary,
		Conditions:   []string{"Type 1 Diabetes"},
		Eligibility: domain.StudyEligibility{
			Criteria:   "Inclusion Criteria:\n- Age 6 to 18 years",
			Sex:        "ALL",
			MinimumAge: "6 Years",
			MaximumAge: "18 Years",
		},
	}
	return t
}

func TestHandleStructuredInfo(t *testing.T) {
	trials := &stubTrials{
		getFn: func(_ context.Context, _ string) (*domain.Trial, error) {
			return detailedTrial(), nil
		},
	}
	srv := newTestServer(testDeps{trials: trials})

	rr := serveHTTP(srv, httptest.NewRequest(http.MethodGet, "/api/paper/structured_info?nct_id=NCT01000001", nil))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp domain.StudySections
	decodeBody(t, rr, &resp)
	assert.Equal(t, "NCT01000001", resp.NCTID)
	assert.Contains(t, resp.Eligibility.Criteria, "Age 6 to 18")
}

func TestHandleStructuredInfo_RequiresID(t *testing.T) {
	srv := newTestServer(testDeps{})

	rr := serveHTTP(srv, httptest.NewRequest(http.MethodGet, "/api/paper/structured_info", nil))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "nct_id is required")
}

func TestHandleStructuredInfo_NotFound(t *testing.T) {
	srv := newTestServer(testDeps{trials: &stubTrials{}})

	rr := serveHTTP(srv, httptest.NewRequest(http.MethodGet, "/api/paper/structured_info?nct_id=NCT09999999", nil))

	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHandleCTGDetail(t *testing.T) {
	trials := &stubTrials{
		getFn: func(_ context.Context, _ string) (*domain.Trial, error) {
			return detailedTrial(), nil
		},
	}
	srv := newTestServer(testDeps{trials: trials})

	rr := serveHTTP(srv, httptest.NewRequest(http.MethodGet, "/api/paper/ctg_detail?nct_id=NCT01000001", nil))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp trialResponse
	decodeBody(t, rr, &resp)
	assert.Equal(t, "NCT01000001", resp.NCTID)
	require.NotNil(t, resp.StructuredInfo)
	assert.Equal(t, []string{"Type 1 Diabetes"}, resp.StructuredInfo.Conditions)
}

func TestHandlePMCFullText(t *testing.T) {
	srv := newTestServer(testDeps{fullText: &stubFullText{html: "<article>body</article>"}})

	rr := serveHTTP(srv, httptest.NewRequest(http.MethodGet, "/api/paper/pmc_full_text_html?pmcid=PMC7654321", nil))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp fullTextResponse
	decodeBody(t, rr, &resp)
	assert.Equal(t, "PMC7654321", resp.PMCID)
	assert.Equal(t, "<article>body</article>", resp.HTML)
}

func TestHandlePMCFullText_Unavailable(t *testing.T) {
	srv := newTestServer(testDeps{})

	rr := serveHTTP(srv, httptest.NewRequest(http.MethodGet, "/api/paper/pmc_full_text_html?pmcid=PMC7654321", nil))

	assert.Equal(t, http.StatusBadGateway, rr.Code)
}

func TestHandleCheckEligibility_PubMed(t *testing.T) {
	articles := &stubArticles{
		getFn: func(_ context.Context, _ string) (*domain.Article, error) {
			return testArticle("35000100"), nil
		},
	}
	classifier := &stubClassifier{}
	srv := newTestServer(testDeps{articles: articles, classifier: classifier})

	body := `{"source":"PM","id":"35000100","criteria":{"inclusion":["pediatric population"],"exclusion":["type 2 diabetes"]}}`
	rr := serveHTTP(srv, postJSON("/api/paper/check_systematic_review", body))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp eligibilityResponse
	decodeBody(t, rr, &resp)
	assert.True(t, classifier.called)
	assert.Empty(t, resp.Error)
	require.Len(t, resp.Inclusion, 1)
	assert.Equal(t, "met", resp.Inclusion[0].Status)
	require.Len(t, resp.Exclusion, 1)
	assert.Equal(t, "not_met", resp.Exclusion[0].Status)
	assert.Equal(t, "stub-model", resp.Model)
}

func TestHandleCheckEligibility_CTGProvidedSections(t *testing.T) {
	trials := &stubTrials{}
	classifier := &stubClassifier{}
	srv := newTestServer(testDeps{trials: trials, classifier: classifier})

	body := `{"source":"CTG","id":"NCT01000001",` +
		`"criteria":{"inclusion":["children aged 6-18"]},` +
		`"structured_info":{"nct_id":"NCT01000001","brief_summary":"Pump study","eligibility":{"criteria":"Age 6 to 18"}}}`
	rr := serveHTTP(srv, postJSON("/api/paper/check_systematic_review", body))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	assert.True(t, classifier.called)
	assert.Empty(t, trials.calls)
}

func TestHandleCheckEligibility_CTGFetchFailureInline(t *testing.T) {
	trials := &stubTrials{
		getFn: func(_ context.Context, id string) (*domain.Trial, error) {
			return nil, domain.NewExternalAPIError("clinicaltrials.gov", http.StatusBadGateway, "upstream down", nil)
		},
	}
	classifier := &stubClassifier{}
	srv := newTestServer(testDeps{trials: trials, classifier: classifier})

	body := `{"source":"CTG","id":"NCT01000001","criteria":{"inclusion":["children aged 6-18"]}}`
	rr := serveHTTP(srv, postJSON("/api/paper/check_systematic_review", body))

	// The fetch failure is reported inline, not as a transport error, and no
	// classification is attempted.
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var resp eligibilityResponse
	decodeBody(t, rr, &resp)
	assert.Equal(t, "failed to load study details", resp.Error)
	assert.Empty(t, resp.Inclusion)
	assert.False(t, classifier.called)
}

func TestHandleCheckEligibility_SkippedWithoutID(t *testing.T) {
	articles := &stubArticles{}
	classifier := &stubClassifier{}
	srv := newTestServer(testDeps{articles: articles, classifier: classifier})

	body := `{"source":"PM","id":"","criteria":{"inclusion":["adults"]}}`
	rr := serveHTTP(srv, postJSON("/api/paper/check_systematic_review", body))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp eligibilityResponse
	decodeBody(t, rr, &resp)
	assert.Empty(t, resp.Inclusion)
	assert.Empty(t, resp.Exclusion)
	assert.False(t, resp.CheckedAt.IsZero())
	assert.False(t, classifier.called)
}

func TestHandleCheckEligibility_InvalidSource(t *testing.T) {
	srv := newTestServer(testDeps{})

	body := `{"source":"SCOPUS","id":"1","criteria":{"inclusion":["adults"]}}`
	rr := serveHTTP(srv, postJSON("/api/paper/check_systematic_review", body))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
