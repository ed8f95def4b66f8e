// Package types defines the request and response payloads of the HTTP API.
package types

// UploadRequest writes content to a repository-relative path. Content
// is a pointer so a request that omits the key entirely can be told
// apart from an explicit empty string; only the latter is accepted.
type UploadRequest struct {
	Path    string  `json:"path"`
	Content *string `json:"content"`
}

// MoveRequest renames a file inside the repository.
type MoveRequest struct {
	Src string `json:"src"`
	Dst string `json:"dst"`
}

// DeleteRequest removes a file from the repository.
type DeleteRequest struct {
	Path string `json:"path"`
}

// VerifyRequest asks for the stored state of an uploaded file.
type VerifyRequest struct {
	Path string `json:"path"`
}

// ActivateRequest selects a different configuration profile.
type ActivateRequest struct {
	Name string `json:"name"`
}

// MutationResponse reports the outcome of an upload, move or delete.
type MutationResponse struct {
	Status string `json:"status"`
	Path   string `json:"path,omitempty"`
	From   string `json:"from,omitempty"`
	To     string `json:"to,omitempty"`
	Sync   string `json:"sync"`
}

// VerifyResponse reports whether a file exists and its stored metadata.
type VerifyResponse struct {
	Path     string `json:"path"`
	Exists   bool   `json:"exists"`
	Size     int64  `json:"size,omitempty"`
	Modified string `json:"modified,omitempty"`
}

// TreeResponse lists tracked files, sorted.
type TreeResponse struct {
	Files []string `json:"files"`
	Count int      `json:"count"`
}

// HealthResponse reports service, working copy and remote state.
type HealthResponse struct {
	Status    string `json:"status"`
	GitStatus string `json:"git_status"`
	Remote    string `json:"remote"`
}

// IndexResponse describes the running service.
type IndexResponse struct {
	Service  string   `json:"service"`
	Profile  string   `json:"profile"`
	SafeMode bool     `json:"safe_mode"`
	Routes   []string `json:"routes"`
}

// ProfilesResponse lists the configured profiles.
type ProfilesResponse struct {
	Profiles []string `json:"profiles"`
	Active   string   `json:"active"`
}

// ActivateResponse acknowledges a profile activation request.
type ActivateResponse struct {
	Status string `json:"status"`
	Name   string `json:"name"`
}

// ErrorResponse carries a machine-readable error code and a message.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes returned in ErrorResponse.Code.
const (
	CodeInvalidPath    = "invalid_path"
	CodeBadRequest     = "bad_request"
	CodeNotFound       = "not_found"
	CodeDeleteDisabled = "delete_disabled"
	CodeInternal       = "internal_error"
)
