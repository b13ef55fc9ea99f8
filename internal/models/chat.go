package models

// Response statuses.
const (
	StatusAck     = "ack"
	StatusSuccess = "success"
	StatusError   = "error"
)

// ChatRequest is a question posted to the chat endpoint.
type ChatRequest struct {
	Query string `json:"query"`
}

// ChatResponse carries the answer to a question.
type ChatResponse struct {
	Status  string `json:"status"`
	Answer  string `json:"answer"`
	QueryID string `json:"query_id,omitempty"`
}

// IngestResponse acknowledges an accepted message.
type IngestResponse struct {
	Status string `json:"status"`
	ID     string `json:"id"`
}

// StatusResponse describes the state of a running instance.
type StatusResponse struct {
	IndexSize    int    `json:"index_size"`
	Dimensions   int    `json:"dimensions"`
	Messages     int64  `json:"messages"`
	Chats        int64  `json:"chats"`
	IndexPath    string `json:"index_path"`
	DatabasePath string `json:"database_path"`
	DiskBytes    int64  `json:"disk_bytes"`
}

// MessageMatch is a stored message found by keyword search.
type MessageMatch struct {
	Message *Message `json:"message"`
	Score   float64  `json:"score"`
}

// FindResponse is the result of a keyword search over messages.
type FindResponse struct {
	Query     string          `json:"query"`
	Results   []*MessageMatch `json:"results"`
	Total     int             `json:"total"`
	QueryTime int64           `json:"query_time_ms"`
}
