package provider

import (
	"context"
	"fmt"
	"net/url"
)

// StaticImageSearcher satisfies image-search tool calls without a real image
// API: it returns seeded picsum URLs derived from the query, so generated
// screens get stable stand-in photos.
type StaticImageSearcher struct{}

func (StaticImageSearcher) Search(_ context.Context, query string, count int) ([]string, error) {
	urls := make([]string, 0, count)
	for i := 0; i < count; i++ {
		seed := url.PathEscape(fmt.Sprintf("%s-%d", query, i))
		urls = append(urls, fmt.Sprintf("https://picsum.photos/seed/%s/800/600", seed))
	}
	return urls, nil
}
