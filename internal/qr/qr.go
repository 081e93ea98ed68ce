// Package qr builds per-table ordering links and the URLs of a
// third-party QR image renderer for them. The rendering itself happens
// remotely; the client only constructs URLs.
package qr

import (
	"fmt"
	"net/url"
	"strings"
)

const (
	renderEndpoint = "https://api.qrserver.com/v1/create-qr-code/"
	defaultSize    = 200
)

// Table is one table's ordering link plus the QR image that encodes it.
type Table struct {
	Number   int
	URL      string
	ImageURL string
}

// TableURL returns the customer ordering link for one table:
// <base>/<slug>/meja/<number>.
func TableURL(baseURL, slug string, number int) string {
	return fmt.Sprintf("%s/%s/meja/%d", strings.TrimRight(baseURL, "/"), slug, number)
}

// ImageURL returns the remote render URL for a QR code encoding target.
// size is the square pixel size; non-positive falls back to the default.
func ImageURL(target string, size int) string {
	if size <= 0 {
		size = defaultSize
	}
	q := url.Values{}
	q.Set("size", fmt.Sprintf("%dx%d", size, size))
	q.Set("data", target)
	return renderEndpoint + "?" + q.Encode()
}

// GenerateTables builds links for tables 1..count.
func GenerateTables(baseURL, slug string, count, size int) []Table {
	tables := make([]Table, 0, count)
	for n := 1; n <= count; n++ {
		link := TableURL(baseURL, slug, n)
		tables = append(tables, Table{
			Number:   n,
			URL:      link,
			ImageURL: ImageURL(link, size),
		})
	}
	return tables
}
