package bot

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

// emailPattern matches address-shaped tokens in visible page text.
var emailPattern = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)

// operatorEmails are listing-site operator addresses that must never be
// treated as a posting contact.
var operatorEmails = map[string]struct{}{
	"usjobs@nvoids.com":     {},
	"resumes@nvoids.com":    {},
	"nvoids.jobs@gmail.com": {},
	"info@nvoids.com":       {},
	"support@nvoids.com":    {},
}

// unknownCompany is used when no company can be derived from the contact address.
const unknownCompany = "Unknown Company"

// titleSeparator splits the posting headline into title and location.
const titleSeparator = " at "

// Extractor turns one posting URL into a classified DetailResult. It is safe
// for concurrent use: each call acquires its own session and shares nothing.
type Extractor struct {
	sessions SessionFactory
	filter   FilterConfig
	log      *zap.Logger
}

// NewExtractor builds an Extractor on top of a session factory.
func NewExtractor(sessions SessionFactory, filter FilterConfig, log *zap.Logger) *Extractor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Extractor{sessions: sessions, filter: filter, log: log.Named("extract")}
}

// Extract acquires a session, loads the posting and classifies it. Fetch and
// parse failures are folded into the returned outcome, never propagated: a
// bad posting must not take the cycle down.
func (e *Extractor) Extract(ctx context.Context, postingURL string) DetailResult {
	sess, err := e.sessions.Acquire(ctx)
	if err != nil {
		return DetailResult{Outcome: OutcomeError, Reason: fmt.Sprintf("acquire session: %v", err)}
	}
	defer sess.Close()

	if err := sess.Navigate(ctx, postingURL); err != nil {
		return DetailResult{Outcome: OutcomeError, Reason: fmt.Sprintf("navigate: %v", err)}
	}
	html, err := sess.HTML(ctx)
	if err != nil {
		return DetailResult{Outcome: OutcomeError, Reason: fmt.Sprintf("read document: %v", err)}
	}
	return e.Classify(postingURL, html)
}

// Classify applies the filter and contact-extraction rules to an already
// fetched document. Split out from Extract so it runs without a browser.
func (e *Extractor) Classify(postingURL, html string) DetailResult {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return DetailResult{Outcome: OutcomeError, Reason: fmt.Sprintf("parse document: %v", err)}
	}

	title, location, ok := titleAndLocation(doc)
	if !ok {
		return DetailResult{Outcome: OutcomeFiltered, Reason: "title row not found"}
	}

	// Filter before scanning for a contact address; rejected postings
	// never pay for the email scan.
	if ok, reason := e.filter.Explain(title); !ok {
		e.log.Debug("posting filtered",
			zap.String("title", title),
			zap.String("reason", reason),
		)
		return DetailResult{Outcome: OutcomeFiltered, Reason: reason}
	}

	email := contactEmail(doc.Text())
	if email == "" {
		return DetailResult{Outcome: OutcomeNoContact}
	}

	return DetailResult{
		Outcome: OutcomeSuccess,
		Record: JobRecord{
			JobID:     JobIDFromURL(postingURL),
			Title:     title,
			Company:   CompanyFromEmail(email),
			Email:     strings.ToLower(email),
			SourceURL: postingURL,
			Location:  location,
		},
	}
}

// titleAndLocation reads the first row of the first table as the posting
// headline and splits it on the " at " separator. Without the separator the
// whole text is the title and the location is unspecified.
func titleAndLocation(doc *goquery.Document) (title, location string, ok bool) {
	row := doc.Find("table").First().Find("tr").First()
	if row.Length() == 0 {
		return "", "", false
	}
	text := strings.TrimSpace(row.Text())
	if text == "" {
		return "", "", false
	}
	if before, after, found := strings.Cut(text, titleSeparator); found {
		return strings.TrimSpace(before), strings.TrimSpace(after), true
	}
	return text, "unspecified", true
}

// contactEmail returns the first address in text that is not a known
// operator address, or "" when none qualifies.
func contactEmail(text string) string {
	for _, match := range emailPattern.FindAllString(text, -1) {
		if _, blocked := operatorEmails[strings.ToLower(match)]; blocked {
			continue
		}
		return match
	}
	return ""
}

// CompanyFromEmail derives a display company name from the contact address's
// first domain label. This is a heuristic, not identity resolution; it lives
// behind one function so a real lookup can replace it.
func CompanyFromEmail(email string) string {
	_, domain, found := strings.Cut(email, "@")
	if !found {
		return unknownCompany
	}
	label, _, _ := strings.Cut(domain, ".")
	label = strings.TrimSpace(label)
	if label == "" {
		return unknownCompany
	}
	lower := strings.ToLower(label)
	return strings.ToUpper(lower[:1]) + lower[1:]
}

// JobIDFromURL extracts the posting identity from the jid or id query
// parameter. URLs carrying neither fall back to the URL itself so the
// identity is never empty.
func JobIDFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	if id := q.Get("jid"); id != "" {
		return id
	}
	if id := q.Get("id"); id != "" {
		return id
	}
	return raw
}
