package http

import "auspex/internal/scrape"

type runRequest struct {
	URL           string `json:"url"`
	Prompt        string `json:"prompt"`
	MaxIterations int    `json:"maxIterations,omitempty"`
	TimeoutMs     int    `json:"timeoutMs,omitempty"`
	Vision        *bool  `json:"vision,omitempty"`
	OutputSchema  string `json:"outputSchema,omitempty"`
}

type runResponse struct {
	Status     string       `json:"status"`
	Tier       string       `json:"tier"`
	Data       string       `json:"data,omitempty"`
	Error      string       `json:"error,omitempty"`
	Report     string       `json:"report"`
	DurationMs int64        `json:"durationMs"`
	Actions    []actionItem `json:"actions"`
	Usage      usageInfo    `json:"usage"`
}

type actionItem struct {
	Iteration   int    `json:"iteration"`
	Description string `json:"description"`
}

type usageInfo struct {
	Calls            int `json:"calls"`
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

type scrapeRequest struct {
	URL             string            `json:"url"`
	ForceTier       string            `json:"forceTier,omitempty"`
	TimeoutMs       int               `json:"timeoutMs,omitempty"`
	WaitForSelector string            `json:"waitForSelector,omitempty"`
	MainOnly        bool              `json:"mainOnly,omitempty"`
	CaptureJSON     bool              `json:"captureJson,omitempty"`
	Headers         map[string]string `json:"headers,omitempty"`
}

type batchScrapeRequest struct {
	URLs            []string `json:"urls"`
	ForceTier       string   `json:"forceTier,omitempty"`
	TimeoutMs       int      `json:"timeoutMs,omitempty"`
	MainOnly        bool     `json:"mainOnly,omitempty"`
	Concurrency     int      `json:"concurrency,omitempty"`
	WaitForSelector string   `json:"waitForSelector,omitempty"`
}

type batchScrapeItem struct {
	URL    string         `json:"url"`
	Result *scrape.Result `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`
}

type batchScrapeResponse struct {
	Results []batchScrapeItem `json:"results"`
}

type errorResponse struct {
	Error string `json:"error"`
}
