package models

import "time"

// NewsItem is an article published by the update server.
type NewsItem struct {
	ID            int64     `json:"id"`
	Title         string    `json:"title"`
	Subtitle      string    `json:"subtitle,omitempty"`
	Text          string    `json:"text,omitempty"`
	ImageURL      string    `json:"image_url,omitempty"`
	DatePublished time.Time `json:"date_published"`
	Read          bool      `json:"read"`
}
