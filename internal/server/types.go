package server

// Request bodies accepted by the HTTP API. Response bodies are the hub types
// themselves, serialized as-is.

type registerRequest struct {
	DisplayName string            `json:"display_name"`
	TenantID    string            `json:"tenant_id,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type heartbeatRequest struct {
	State    string            `json:"state,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type setStateRequest struct {
	State string `json:"state"`
}

type createRequestBody struct {
	Title    string   `json:"title"`
	Question string   `json:"question"`
	Priority string   `json:"priority,omitempty"`
	Tags     []string `json:"tags,omitempty"`
}

type respondRequest struct {
	ResponseText string `json:"response_text"`
	Responder    string `json:"responder,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type healthResponse struct {
	Status string `json:"status"`
}
