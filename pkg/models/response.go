package models

// ResponseType classifies a bot response
type ResponseType string

const (
	ResponseText   ResponseType = "text"
	ResponseMedia  ResponseType = "media"
	ResponseForm   ResponseType = "form"
	ResponseAction ResponseType = "action"
)

// Response is one message the bot sends back for a turn
type Response struct {
	Type    ResponseType   `json:"type"`
	Content string         `json:"content,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

// TextResponse builds a plain text response
func TextResponse(content string) Response {
	return Response{Type: ResponseText, Content: content}
}
