package ml

import (
	"fmt"

	"github.com/Rodato/FundBot/internal/domain"
)

const organisationProfile = "a company specialised in artificial intelligence, data visualisation and dashboards"

func extractPrompt(content, baseURL string) string {
	return fmt.Sprintf(`You are an expert web scraping assistant. Read the following page content and extract every funding call, grant or subsidy you can find.

For each one return:
1. "title": the name of the call.
2. "url": the full absolute URL of the call's detail page.
3. "summary": a short description or the text next to it, if available.

Answer with a valid JSON array of objects and nothing else. URLs must be absolute; the page base URL is %s.
If there are no calls, answer with an empty JSON array: [].

Page content:
%s`, baseURL, content)
}

func classifyPrompt(listing domain.Listing) string {
	return fmt.Sprintf(`Analyse this funding call and answer only YES or NO.
Title: %s
URL: %s
Does it fit %s?`, listing.Title, listing.Identity, organisationProfile)
}

func summarizePrompt(listing domain.Listing) string {
	return fmt.Sprintf(`Summarise in at most 100 words:
- Name of the call
- Deadline (if mentioned)
- Why it fits %s
- URL: %s

Title: %s
Description: %s`, organisationProfile, listing.Identity, listing.Title, listing.Summary)
}
