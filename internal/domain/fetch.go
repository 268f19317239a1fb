package domain

// FetchResult is the raw outcome of a successful one-shot GET. The fetcher
// never truncates; the processing service owns the page-source cap.
type FetchResult struct {
	Headers           map[string]string
	Cookies           map[string]string
	PageSource        string
	StatusCode        int
	FinalURL          string
	AdditionalDetails map[string]any
}

// MetadataBlock converts the result into the persisted metadata shape.
func (r *FetchResult) MetadataBlock() MetadataBlock {
	headers := make(map[string]string, len(r.Headers))
	for k, v := range r.Headers {
		headers[k] = v
	}
	cookies := make(map[string]string, len(r.Cookies))
	for k, v := range r.Cookies {
		cookies[k] = v
	}
	var details map[string]any
	if len(r.AdditionalDetails) > 0 {
		details = make(map[string]any, len(r.AdditionalDetails))
		for k, v := range r.AdditionalDetails {
			details[k] = v
		}
	}
	return MetadataBlock{
		Headers:           headers,
		Cookies:           cookies,
		PageSource:        r.PageSource,
		StatusCode:        r.StatusCode,
		FinalURL:          r.FinalURL,
		AdditionalDetails: details,
	}
}
