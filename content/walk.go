package content

// Image discovery over loaded snapshots. Content values are opaque JSON, so
// the walk works structurally: image URLs are collected wherever a known
// image-bearing field appears, at any depth, including inside nested
// content/text/about blocks and collection arrays.

var imageFields = map[string]bool{
	"cover":       true,
	"image":       true,
	"images":      true,
	"carousel":    true,
	"photography": true,
}

// collectImageURLs walks a decoded JSON value and returns every image URL
// reachable from an image-bearing field, in discovery order, deduplicated.
func collectImageURLs(value any) []string {
	var urls []string
	seen := make(map[string]bool)
	walkValue(value, func(url string) {
		if url != "" && !seen[url] {
			seen[url] = true
			urls = append(urls, url)
		}
	})
	return urls
}

func walkValue(value any, emit func(string)) {
	switch v := value.(type) {
	case map[string]any:
		for key, child := range v {
			if imageFields[key] {
				gatherURLs(child, emit)
			} else {
				walkValue(child, emit)
			}
		}
	case []any:
		for _, child := range v {
			walkValue(child, emit)
		}
	}
}

// gatherURLs extracts URL strings from the value of an image-bearing field:
// a plain string, an object carrying url/src, or an array of either.
func gatherURLs(value any, emit func(string)) {
	switch v := value.(type) {
	case string:
		emit(v)
	case map[string]any:
		if url, ok := v["url"].(string); ok {
			emit(url)
		} else if src, ok := v["src"].(string); ok {
			emit(src)
		}
	case []any:
		for _, child := range v {
			gatherURLs(child, emit)
		}
	}
}
