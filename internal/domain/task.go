package domain

import "time"

// Task is the entity timers attach to. Task management itself (boards,
// ordering, rates) lives outside this repository; the engine only needs
// enough of the shape to validate existence and render entries.
type Task struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Archived  bool      `json:"archived"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
