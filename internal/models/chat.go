package models

// Chat roles used in a tutor history.
const (
	ChatRoleUser  = "user"
	ChatRoleModel = "model"
)

// ChatMessage is one turn of the tutor conversation stored on a project.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
