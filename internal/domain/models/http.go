package models

// ScreenRequest triggers a screening run over an optional explicit universe.
// When Symbols is empty the configured universe is used.
type ScreenRequest struct {
	Symbols []string `json:"symbols" validate:"omitempty,max=10000,dive,min=1"`
}

// ScreenResponse returns the ranked selection plus run statistics.
type ScreenResponse struct {
	Selected []Candidate `json:"selected"`
	Stats    RunStats    `json:"stats"`
}
