package errors

const (
	HttpInternalError            = "internal_error"
	HttpInvalidJsonError         = "invalid_json"
	HttpReportNotFoundError      = "report_not_found"
	HttpStreamNotFoundError      = "stream_not_found"
	HttpStreamConflictError      = "stream_conflict"
	HttpStreamTerminalError      = "stream_terminal"
	HttpAggregationNotFoundError = "aggregation_not_found"
)

// ErrorResponse is the error response body for stream API errors.
type ErrorResponse struct {
	ErrorType string      `json:"error_type"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
}
