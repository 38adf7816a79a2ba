package parser

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/aluiziolira/bookpipe/models"
)

// Catalog markup selectors.
const (
	ItemSelector     = "article.product_pod"
	NextLinkSelector = "li.next a"
)

// ExtractBook builds a raw record from one catalog item block. The item URL
// is resolved against page. A block missing any required field returns an
// error wrapping ErrMissingField.
func ExtractBook(item *goquery.Selection, page *url.URL) (models.BookRecord, error) {
	link := item.Find("h3 a").First()

	title := strings.TrimSpace(link.AttrOr("title", ""))
	if title == "" {
		title = CollapseSpace(link.Text())
	}

	bookURL, err := resolve(page, link.AttrOr("href", ""))
	if err != nil {
		return models.BookRecord{}, err
	}

	availability := CollapseSpace(item.Find("p.instock.availability").First().Text())
	if availability == "" {
		availability = CollapseSpace(item.Find("p.availability").First().Text())
	}

	book := models.BookRecord{
		Title:        title,
		Price:        CollapseSpace(item.Find("p.price_color").First().Text()),
		Rating:       extractRating(item.Find("p.star-rating").First()),
		Availability: availability,
		URL:          bookURL,
	}
	if err := ValidateRecord(book); err != nil {
		if title != "" {
			return book, fmt.Errorf("%s: %w", title, err)
		}
		return book, err
	}
	return book, nil
}

// NextPageURL returns the absolute "next" link of a catalog page, or "" on
// the last page.
func NextPageURL(doc *goquery.Selection, page *url.URL) string {
	href, ok := doc.Find(NextLinkSelector).First().Attr("href")
	if !ok {
		return ""
	}
	next, err := resolve(page, href)
	if err != nil {
		return ""
	}
	return next
}

// extractRating prefers the class-encoded token ("star-rating Three"),
// falling back to numeric text inside the element. A token that is not in
// the rating table is returned as-is so the clean stage can reject it.
func extractRating(el *goquery.Selection) string {
	if el.Length() == 0 {
		return ""
	}

	unknown := ""
	for _, token := range strings.Fields(el.AttrOr("class", "")) {
		if token == "star-rating" {
			continue
		}
		if n, ok := LookupRating(token); ok {
			return strconv.FormatInt(n, 10)
		}
		if unknown == "" {
			unknown = token
		}
	}

	if text := CollapseSpace(el.Text()); text != "" {
		return text
	}
	return unknown
}

func resolve(page *url.URL, href string) (string, error) {
	href = strings.TrimSpace(href)
	if href == "" {
		return "", fmt.Errorf("%w: %s", ErrMissingField, models.ColumnURL)
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrMissingField, models.ColumnURL, err)
	}
	if page == nil {
		return ref.String(), nil
	}
	return page.ResolveReference(ref).String(), nil
}

// UnknownSubcategory is recorded when a detail page yields no category.
const UnknownSubcategory = "Unknown"

// ExtractSubcategory reads the book category from a detail page: the third
// breadcrumb entry, or the active entry of the category navigation.
func ExtractSubcategory(doc *goquery.Selection) string {
	crumbs := doc.Find("ul.breadcrumb li")
	if crumbs.Length() >= 3 {
		if text := CollapseSpace(crumbs.Eq(2).Text()); text != "" {
			return text
		}
	}
	return CollapseSpace(doc.Find("ul.nav-list > li > ul > li.active > a").First().Text())
}
