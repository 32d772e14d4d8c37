// Package fetch downloads web pages and parses them into articles.
//
// HTTPFetcher issues a plain HTTP GET and extracts the title, paragraph
// text and the common meta tags (description, keywords, author, Open Graph
// image, publish time). It does not execute scripts, so pages that render
// their text client side yield no content and fail with ErrNoContent.
package fetch
