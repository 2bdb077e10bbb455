package models

import (
	"time"

	"github.com/google/uuid"
)

// Frame is one generated screen of a project. The ID is the stable slug from
// the screen plan, unique within the project. A frame starts as a loading
// placeholder at planning time and is overwritten with final content once its
// screen has been generated.
type Frame struct {
	ID          string    `json:"id"`
	ProjectID   uuid.UUID `json:"project_id"`
	Title       string    `json:"title"`
	HTMLContent string    `json:"html_content"`
	Ord         int       `json:"order"`
	IsLoading   bool      `json:"is_loading"`
	UpdatedAt   time.Time `json:"updated_at"`
}
