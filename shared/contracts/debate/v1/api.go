package v1

// REST bodies exchanged with the podium API. Field names match the
// websocket payloads so a client can share one set of decoders.

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     Role   `json:"role"`
}

type LoginResponse struct {
	User  User   `json:"user"`
	Token string `json:"token"`
}

// JoinRequest asks for a seat. Position is a preference; a seat reserved by a
// challenge keeps its side.
type JoinRequest struct {
	Position Position `json:"position,omitempty"`
}

type CreateChallengeRequest struct {
	TopicID  string   `json:"topicId"`
	Position Position `json:"position"`
}

type AcceptChallengeResponse struct {
	Challenge Challenge `json:"challenge"`
	Debate    Debate    `json:"debate"`
}

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ErrorResponse struct {
	Error APIError `json:"error"`
}

// Stable API error codes.
const (
	CodeInvalidInput = "invalid_input"
	CodeUnauthorized = "unauthorized"
	CodeForbidden    = "forbidden"
	CodeNotFound     = "not_found"
	CodeRoomNotFound = "room_not_found"
	CodeTopicMissing = "topic_not_found"
	CodeConflict     = "conflict"
	CodeRateLimited  = "rate_limited"
	CodeInternal     = "internal"
)
