package session

// createRequest is the request body for POST /api/auth/{apiKey}/sessions.
type createRequest struct {
	APISecret string `json:"api_secret" example:"s3cr3t"`
}

// createResponse is returned on a successful session creation.
type createResponse struct {
	SessionID string `json:"session_id" example:"b3f1c2a0-1234-4abc-9def-0123456789ab"`
	Token     string `json:"token" example:"eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9..."`
}

// refreshResponse is returned on a successful token refresh.
type refreshResponse struct {
	Token string `json:"token" example:"eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9..."`
}

// problemResponse documents the RFC 7807 problem body auth errors share
// with the rest of the dispatcher (see internal/httpgw/problem.go).
type problemResponse struct {
	Type   string `json:"type" example:"https://oobe.dev/problems/auth-error"`
	Title  string `json:"title" example:"Unauthorized"`
	Status int    `json:"status" example:"401"`
	Detail string `json:"detail" example:"invalid api key or secret"`
}
