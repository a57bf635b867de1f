// Package pubmed provides a client for the NCBI PubMed E-utilities API.
//
// PubMed is a biomedical literature database maintained by NCBI.
// This package implements the sources.ArticleSource interface to search and
// retrieve article metadata, and additionally exposes PubMed Central full
// text retrieval for open-access articles.
//
// The E-utilities API documentation is available at:
// https://www.ncbi.nlm.nih.gov/books/NBK25499/
package pubmed

import "encoding/xml"

// ESearchResult represents the response from the esearch.fcgi endpoint.
// This endpoint returns a list of PMIDs matching a search query.
type ESearchResult struct {
	XMLName   xml.Name   `xml:"eSearchResult"`
	Count     int        `xml:"Count"`
	RetMax    int        `xml:"RetMax"`
	RetStart  int        `xml:"RetStart"`
	IDList    IDList     `xml:"IdList"`
	QueryKey  string     `xml:"QueryKey,omitempty"`
	WebEnv    string     `xml:"WebEnv,omitempty"`
	ErrorList *ErrorList `xml:"ErrorList,omitempty"`
}

// IDList contains the list of PMIDs returned by a search.
type IDList struct {
	IDs []string `xml:"Id"`
}

// ErrorList contains errors from the E-utilities API.
type ErrorList struct {
	PhraseNotFound []string `xml:"PhraseNotFound,omitempty"`
	FieldNotFound  []string `xml:"FieldNotFound,omitempty"`
}

// PubmedArticleSet represents the response from the efetch.fcgi endpoint.
// This endpoint returns full article metadata for a list of PMIDs.
type PubmedArticleSet struct {
	XMLName  xml.Name        `xml:"PubmedArticleSet"`
	Articles []PubmedArticle `xml:"PubmedArticle"`
}

// PubmedArticle represents a single article in the PubMed database.
type PubmedArticle struct {
	MedlineCitation MedlineCitation `xml:"MedlineCitation"`
	PubmedData      PubmedData      `xml:"PubmedData"`
}

// MedlineCitation contains the core bibliographic information.
type MedlineCitation struct {
	PMID            PMID             `xml:"PMID"`
	Article         Article          `xml:"Article"`
	MeshHeadingList *MeshHeadingList `xml:"MeshHeadingList,omitempty"`
	KeywordList     *KeywordList     `xml:"KeywordList,omitempty"`
}

// PMID represents the PubMed identifier with optional version.
type PMID struct {
	Version int    `xml:"Version,attr,omitempty"`
	Value   string `xml:",chardata"`
}

// Article contains the article metadata.
type Article struct {
	Journal      Journal       `xml:"Journal"`
	ArticleTitle string        `xml:"ArticleTitle"`
	ELocationID  []ELocationID `xml:"ELocationID,omitempty"`
	Abstract     *Abstract     `xml:"Abstract,omitempty"`
	AuthorList   *AuthorList   `xml:"AuthorList,omitempty"`
	// DataBankList carries registry accession numbers; for clinical trial
	// reports this is where the NCT numbers live.
	DataBankList *DataBankList `xml:"DataBankList,omitempty"`
	ArticleDate  []ArticleDate `xml:"ArticleDate,omitempty"`
}

// Journal contains journal information.
type Journal struct {
	JournalIssue    JournalIssue `xml:"JournalIssue"`
	Title           string       `xml:"Title,omitempty"`
	ISOAbbreviation string       `xml:"ISOAbbreviation,omitempty"`
}

// JournalIssue contains the volume, issue, and publication date.
type JournalIssue struct {
	Volume  string  `xml:"Volume,omitempty"`
	Issue   string  `xml:"Issue,omitempty"`
	PubDate PubDate `xml:"PubDate"`
}

// PubDate represents the publication date which may have various formats.
type PubDate struct {
	Year        string `xml:"Year,omitempty"`
	Month       string `xml:"Month,omitempty"`
	Day         string `xml:"Day,omitempty"`
	Season      string `xml:"Season,omitempty"`
	MedlineDate string `xml:"MedlineDate,omitempty"`
}

// ELocationID represents an electronic location identifier (DOI or PII).
type ELocationID struct {
	EIdType string `xml:"EIdType,attr"`
	Valid   string `xml:"ValidYN,attr,omitempty"`
	Value   string `xml:",chardata"`
}

// Abstract contains the article abstract, which may have multiple sections.
type Abstract struct {
	AbstractTexts []AbstractText `xml:"AbstractText"`
	CopyrightInfo string         `xml:"CopyrightInformation,omitempty"`
}

// AbstractText represents a section of the abstract.
// Structured abstracts have labeled sections (Background, Methods, Results, etc.).
type AbstractText struct {
	Label       string `xml:"Label,attr,omitempty"`
	NlmCategory string `xml:"NlmCategory,attr,omitempty"`
	Value       string `xml:",chardata"`
}

// AuthorList contains the list of authors.
type AuthorList struct {
	CompleteYN string   `xml:"CompleteYN,attr,omitempty"`
	Authors    []Author `xml:"Author"`
}

// Author represents a single author with name and optional affiliation.
type Author struct {
	ValidYN         string            `xml:"ValidYN,attr,omitempty"`
	LastName        string            `xml:"LastName,omitempty"`
	ForeName        string            `xml:"ForeName,omitempty"`
	Initials        string            `xml:"Initials,omitempty"`
	CollectiveName  string            `xml:"CollectiveName,omitempty"`
	AffiliationInfo []AffiliationInfo `xml:"AffiliationInfo,omitempty"`
}

// AffiliationInfo contains author affiliation information.
type AffiliationInfo struct {
	Affiliation string `xml:"Affiliation"`
}

// DataBankList contains registry and databank accession numbers.
type DataBankList struct {
	CompleteYN string     `xml:"CompleteYN,attr,omitempty"`
	DataBanks  []DataBank `xml:"DataBank"`
}

// DataBank represents a single databank with its accession numbers.
type DataBank struct {
	DataBankName        string              `xml:"DataBankName"`
	AccessionNumberList AccessionNumberList `xml:"AccessionNumberList"`
}

// AccessionNumberList contains accession numbers for a databank.
type AccessionNumberList struct {
	AccessionNumbers []string `xml:"AccessionNumber"`
}

// ArticleDate represents the article publication date.
type ArticleDate struct {
	DateType string `xml:"DateType,attr,omitempty"`
	Year     string `xml:"Year"`
	Month    string `xml:"Month,omitempty"`
	Day      string `xml:"Day,omitempty"`
}

// MeshHeadingList contains the MeSH terms assigned to the article.
type MeshHeadingList struct {
	MeshHeadings []MeshHeading `xml:"MeshHeading"`
}

// MeshHeading represents a MeSH descriptor with optional qualifiers.
type MeshHeading struct {
	DescriptorName DescriptorName `xml:"DescriptorName"`
}

// DescriptorName represents a MeSH descriptor.
type DescriptorName struct {
	UI         string `xml:"UI,attr,omitempty"`
	MajorTopic string `xml:"MajorTopicYN,attr,omitempty"`
	Value      string `xml:",chardata"`
}

// KeywordList contains author-provided keywords.
type KeywordList struct {
	Owner    string    `xml:"Owner,attr,omitempty"`
	Keywords []Keyword `xml:"Keyword"`
}

// Keyword represents a single keyword.
type Keyword struct {
	MajorTopic string `xml:"MajorTopicYN,attr,omitempty"`
	Value      string `xml:",chardata"`
}

// PubmedData contains additional PubMed-specific data.
type PubmedData struct {
	PublicationStatus string        `xml:"PublicationStatus,omitempty"`
	ArticleIdList     ArticleIdList `xml:"ArticleIdList"`
}

// ArticleIdList contains various identifiers for the article.
type ArticleIdList struct {
	ArticleIds []ArticleId `xml:"ArticleId"`
}

// ArticleId represents an article identifier (PMID, DOI, PMC, etc.).
type ArticleId struct {
	IdType string `xml:"IdType,attr"`
	Value  string `xml:",chardata"`
}

// PMCArticleSet represents the response from efetch against the PMC database.
// Only the pieces needed to render the article body as HTML are modeled.
type PMCArticleSet struct {
	XMLName  xml.Name     `xml:"pmc-articleset"`
	Articles []PMCArticle `xml:"article"`
}

// PMCArticle is a single full-text article in JATS format.
type PMCArticle struct {
	Front PMCFront `xml:"front"`
	Body  *PMCBody `xml:"body"`
}

// PMCFront holds the JATS front matter.
type PMCFront struct {
	ArticleMeta PMCArticleMeta `xml:"article-meta"`
}

// PMCArticleMeta holds the title of the full-text article.
type PMCArticleMeta struct {
	TitleGroup struct {
		ArticleTitle string `xml:"article-title"`
	} `xml:"title-group"`
}

// PMCBody is the JATS article body, a tree of sections.
type PMCBody struct {
	Sections   []PMCSection `xml:"sec"`
	Paragraphs []string     `xml:"p"`
}

// PMCSection is a JATS section with a title, paragraphs, and subsections.
type PMCSection struct {
	Title       string       `xml:"title"`
	Paragraphs  []string     `xml:"p"`
	Subsections []PMCSection `xml:"sec"`
}
