package limits

// Size limits for fetched pages, API payloads and extracted text

const (
	// JSON is the standard size limit for API request/response payloads (1MB)
	JSON = 1 << 20

	// ErrorBody is the maximum size for error response bodies (1KB)
	// Used when parsing error messages from failed API calls
	ErrorBody = 1024

	// HTML is the maximum number of bytes read from a fetched company page (2MB)
	HTML = 2 << 20

	// PageText is the maximum number of characters kept from a page's visible text
	PageText = 12000

	// SummaryInput is the maximum number of page text characters sent for summarization
	SummaryInput = 8000

	// Screenshot is the largest screenshot accepted from the headless browser (10MB)
	Screenshot = 10 << 20
)
