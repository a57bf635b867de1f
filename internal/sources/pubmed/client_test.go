package pubmed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medscope/study-search-service/internal/domain"
	"github.com/medscope/study-search-service/internal/observability"
	"github.com/medscope/study-search-service/internal/sources"
)

var testMetrics = observability.NewMetrics("searchsvc_pubmed_test")

const esearchResponseXML = `<?xml version="1.0" encoding="UTF-8" ?>
<eSearchResult>
  <Count>2</Count>
  <RetMax>2</RetMax>
  <RetStart>0</RetStart>
  <IdList>
    <Id>35000001</Id>
    <Id>35000002</Id>
  </IdList>
</eSearchResult>`

const esearchEmptyResponseXML = `<?xml version="1.0" encoding="UTF-8" ?>
<eSearchResult>
  <Count>0</Count>
  <RetMax>0</RetMax>
  <RetStart>0</RetStart>
  <IdList></IdList>
  <ErrorList>
    <PhraseNotFound>zzz-nonexistent-term</PhraseNotFound>
  </ErrorList>
</eSearchResult>`

const efetchResponseXML = `<?xml version="1.0" encoding="UTF-8" ?>
<PubmedArticleSet>
  <PubmedArticle>
    <MedlineCitation>
      <PMID Version="1">35000001</PMID>
      <Article>
        <Journal>
          <JournalIssue>
            <Volume>12</Volume>
            <Issue>3</Issue>
            <PubDate>
              <Year>2022</Year>
              <Month>Mar</Month>
              <Day>15</Day>
            </PubDate>
          </JournalIssue>
          <Title>Diabetes Care</Title>
        </Journal>
        <ArticleTitle>Insulin therapy in pediatric type 1 diabetes</ArticleTitle>
        <ELocationID EIdType="doi" ValidYN="Y">10.1000/dc.2022.101</ELocationID>
        <Abstract>
          <AbstractText Label="BACKGROUND">Glycemic control in children is hard.</AbstractText>
          <AbstractText Label="RESULTS">Pump therapy improved HbA1c.</AbstractText>
        </Abstract>
        <AuthorList CompleteYN="Y">
          <Author ValidYN="Y">
            <LastName>Chen</LastName>
            <ForeName>Wei</ForeName>
            <AffiliationInfo>
              <Affiliation>Boston Children's Hospital</Affiliation>
            </AffiliationInfo>
          </Author>
          <Author ValidYN="Y">
            <CollectiveName>PEDAP Study Group</CollectiveName>
          </Author>
        </AuthorList>
        <DataBankList CompleteYN="Y">
          <DataBank>
            <DataBankName>ClinicalTrials.gov</DataBankName>
            <AccessionNumberList>
              <AccessionNumber>NCT04796220</AccessionNumber>
            </AccessionNumberList>
          </DataBank>
          <DataBank>
            <DataBankName>GenBank</DataBankName>
            <AccessionNumberList>
              <AccessionNumber>AB123456</AccessionNumber>
            </AccessionNumberList>
          </DataBank>
        </DataBankList>
      </Article>
      <MeshHeadingList>
        <MeshHeading>
          <DescriptorName UI="D003922">Diabetes Mellitus, Type 1</DescriptorName>
        </MeshHeading>
        <MeshHeading>
          <DescriptorName UI="D007328">Insulin</DescriptorName>
        </MeshHeading>
      </MeshHeadingList>
    </MedlineCitation>
    <PubmedData>
      <ArticleIdList>
        <ArticleId IdType="pubmed">35000001</ArticleId>
        <ArticleId IdType="pmc">PMC9000001</ArticleId>
        <ArticleId IdType="doi">10.1000/dc.2022.101</ArticleId>
      </ArticleIdList>
    </PubmedData>
  </PubmedArticle>
  <PubmedArticle>
    <MedlineCitation>
      <PMID Version="1">35000002</PMID>
      <Article>
        <Journal>
          <JournalIssue>
            <PubDate>
              <MedlineDate>2021 Jan-Feb</MedlineDate>
            </PubDate>
          </JournalIssue>
          <Title>Pediatrics</Title>
        </Journal>
        <ArticleTitle>Continuous glucose monitoring in children</ArticleTitle>
        <Abstract>
          <AbstractText>CGM reduces hypoglycemia in young children.</AbstractText>
        </Abstract>
      </Article>
    </MedlineCitation>
    <PubmedData>
      <ArticleIdList>
        <ArticleId IdType="pubmed">35000002</ArticleId>
      </ArticleIdList>
    </PubmedData>
  </PubmedArticle>
</PubmedArticleSet>`

const pmcResponseXML = `<?xml version="1.0" encoding="UTF-8" ?>
<pmc-articleset>
  <article>
    <front>
      <article-meta>
        <title-group>
          <article-title>Insulin therapy in pediatric type 1 diabetes</article-title>
        </title-group>
      </article-meta>
    </front>
    <body>
      <sec>
        <title>Introduction</title>
        <p>Type 1 diabetes is the most common endocrine disorder of childhood.</p>
        <sec>
          <title>Study aims</title>
          <p>We compared pump therapy with injections.</p>
        </sec>
      </sec>
      <sec>
        <title>Methods &amp; Materials</title>
        <p>A randomized trial was conducted.</p>
      </sec>
    </body>
  </article>
</pmc-articleset>`

// newTestServer returns an httptest server that routes esearch/efetch
// requests to canned XML fixtures.
func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/xml")
		switch {
		case strings.Contains(r.URL.Path, "esearch"):
			if strings.Contains(r.URL.Query().Get("term"), "zzz-nonexistent") {
				w.Write([]byte(esearchEmptyResponseXML))
				return
			}
			w.Write([]byte(esearchResponseXML))
		case strings.Contains(r.URL.Path, "efetch"):
			if r.URL.Query().Get("db") == "pmc" {
				w.Write([]byte(pmcResponseXML))
				return
			}
			if r.URL.Query().Get("id") == "99999999" {
				w.Write([]byte(`<PubmedArticleSet></PubmedArticleSet>`))
				return
			}
			w.Write([]byte(efetchResponseXML))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func newTestClient(baseURL string) *Client {
	return New(Config{
		BaseURL:   baseURL,
		Enabled:   true,
		RateLimit: 100,
		BurstSize: 10,
	})
}

func TestClient_Search(t *testing.T) {
	server := newTestServer(t)
	defer server.Close()

	client := newTestClient(server.URL)

	result, err := client.Search(context.Background(), sources.ArticleSearchParams{
		Query:      "diabetes insulin child",
		MaxResults: 10,
	})
	require.NoError(t, err)
	require.Len(t, result.Articles, 2)
	assert.Equal(t, 2, result.TotalResults)
	assert.False(t, result.HasMore)

	first := result.Articles[0]
	assert.Equal(t, "35000001", first.PMID)
	assert.Equal(t, "PMC9000001", first.PMCID)
	assert.Equal(t, "10.1000/dc.2022.101", first.DOI)
	assert.Equal(t, "Insulin therapy in pediatric type 1 diabetes", first.Title)
	assert.Equal(t, "Diabetes Care", first.Journal)
	assert.Contains(t, first.Abstract, "BACKGROUND: Glycemic control")
	assert.Contains(t, first.Abstract, "RESULTS: Pump therapy")
	require.NotNil(t, first.PublicationDate)
	assert.Equal(t, 2022, first.PublicationYear)

	require.Len(t, first.Authors, 2)
	assert.Equal(t, "Wei Chen", first.Authors[0].Name)
	assert.Equal(t, "Boston Children's Hospital", first.Authors[0].Affiliation)
	assert.Equal(t, "PEDAP Study Group", first.Authors[1].Name)

	assert.Equal(t, []string{"Diabetes Mellitus, Type 1", "Insulin"}, first.MeshTerms)

	// Registry numbers come only from the ClinicalTrials.gov databank
	assert.Equal(t, []string{"NCT04796220"}, first.NCTNumbers)

	second := result.Articles[1]
	assert.Equal(t, "35000002", second.PMID)
	assert.Empty(t, second.NCTNumbers)
	assert.Equal(t, 2021, second.PublicationYear)
}

func TestClient_Search_PhraseNotFound(t *testing.T) {
	server := newTestServer(t)
	defer server.Close()

	client := newTestClient(server.URL)

	result, err := client.Search(context.Background(), sources.ArticleSearchParams{
		Query: "zzz-nonexistent-term",
	})
	require.NoError(t, err)
	assert.Empty(t, result.Articles)
	assert.Equal(t, 0, result.TotalResults)
	assert.False(t, result.HasMore)
}

func TestClient_Search_Disabled(t *testing.T) {
	client := New(Config{Enabled: false})

	_, err := client.Search(context.Background(), sources.ArticleSearchParams{Query: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disabled")
}

func TestClient_Search_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("bad request"))
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	_, err := client.Search(context.Background(), sources.ArticleSearchParams{Query: "x"})
	require.Error(t, err)

	var apiErr *domain.ExternalAPIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
}

func TestClient_Search_RecordsRequestMetrics(t *testing.T) {
	server := newTestServer(t)
	defer server.Close()

	client := New(Config{
		BaseURL:   server.URL,
		Enabled:   true,
		RateLimit: 100,
		BurstSize: 10,
		Metrics:   testMetrics,
	})

	total := testMetrics.SourceRequestsTotal.WithLabelValues(sourceName, "esearch")
	before := testutil.ToFloat64(total)

	_, err := client.Search(context.Background(), sources.ArticleSearchParams{Query: "insulin"})
	require.NoError(t, err)

	assert.Equal(t, before+1, testutil.ToFloat64(total))
}

func TestClient_GetByID(t *testing.T) {
	server := newTestServer(t)
	defer server.Close()

	client := newTestClient(server.URL)

	article, err := client.GetByID(context.Background(), "35000001")
	require.NoError(t, err)
	assert.Equal(t, "35000001", article.PMID)
	assert.Equal(t, "Insulin therapy in pediatric type 1 diabetes", article.Title)
}

func TestClient_GetByID_NotFound(t *testing.T) {
	server := newTestServer(t)
	defer server.Close()

	client := newTestClient(server.URL)

	_, err := client.GetByID(context.Background(), "99999999")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestClient_FullTextHTML(t *testing.T) {
	server := newTestServer(t)
	defer server.Close()

	client := newTestClient(server.URL)

	htmlText, err := client.FullTextHTML(context.Background(), "PMC9000001")
	require.NoError(t, err)

	assert.Contains(t, htmlText, "<h1>Insulin therapy in pediatric type 1 diabetes</h1>")
	assert.Contains(t, htmlText, "<h2>Introduction</h2>")
	assert.Contains(t, htmlText, "<h3>Study aims</h3>")
	assert.Contains(t, htmlText, "<p>A randomized trial was conducted.</p>")
	// Entities in titles stay escaped
	assert.Contains(t, htmlText, "<h2>Methods &amp; Materials</h2>")
}

func TestClient_FullTextHTML_EmptyID(t *testing.T) {
	client := New(Config{Enabled: true})

	_, err := client.FullTextHTML(context.Background(), "  ")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestClient_SourceIdentity(t *testing.T) {
	client := New(Config{Enabled: true})

	assert.Equal(t, domain.SourceTypePubMed, client.SourceType())
	assert.Equal(t, "PubMed", client.Name())
	assert.True(t, client.IsEnabled())
}
