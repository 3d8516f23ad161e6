package models

// APIResponse is a generic API response wrapper
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Errors  interface{} `json:"errors,omitempty"`
	// Warning is set when the primary write succeeded but bookkeeping did not.
	Warning  string `json:"warning,omitempty"`
	Redirect string `json:"redirect,omitempty"`
}

// NewSuccessResponse creates a success response
func NewSuccessResponse(data interface{}) APIResponse {
	return APIResponse{
		Success: true,
		Data:    data,
	}
}

// NewWarningResponse creates a success response carrying a warning
func NewWarningResponse(data interface{}, warning string) APIResponse {
	return APIResponse{
		Success: true,
		Data:    data,
		Warning: warning,
	}
}

// NewErrorResponse creates an error response
func NewErrorResponse(message string) APIResponse {
	return APIResponse{
		Success: false,
		Error:   message,
	}
}

// NewRedirectResponse tells API clients where a browser would have been sent.
func NewRedirectResponse(message, location string) APIResponse {
	return APIResponse{
		Success:  false,
		Error:    message,
		Redirect: location,
	}
}

// NewValidationErrorResponse creates a validation error response
func NewValidationErrorResponse(errors map[string]string) APIResponse {
	return APIResponse{
		Success: false,
		Error:   "Validation failed",
		Errors:  errors,
	}
}

// MessageResponse is the payload of endpoints that only confirm an action.
type MessageResponse struct {
	Message string `json:"message"`
}
