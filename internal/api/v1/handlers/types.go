package handlers

// Slug tags API responses with a machine-readable outcome.
type Slug string

const (
	// SuccessSlug marks a successful response
	SuccessSlug Slug = "success"
	// ErrorSlug marks a generic error response
	ErrorSlug Slug = "error"
	// InvalidInputSlug marks a rejected request
	InvalidInputSlug Slug = "invalid-input"
	// ServerErrorSlug marks an internal failure
	ServerErrorSlug Slug = "server-error"
)

// Response is the envelope for all API responses.
type Response struct {
	Slug  Slug        `json:"slug"`
	Error string      `json:"error,omitempty"`
	Data  interface{} `json:"data,omitempty"`
}

func errInvalidInput(msg string) Response {
	return Response{
		Slug:  InvalidInputSlug,
		Error: msg,
	}
}

func errServer(msg string) Response {
	return Response{
		Slug:  ServerErrorSlug,
		Error: msg,
	}
}
