package models

import (
	"encoding/json"
	"time"
)

type CommandType string

const (
	CmdTrackAll CommandType = "track_all"
	CmdTrackOne CommandType = "track_one"
	CmdPause    CommandType = "pause"
	CmdResume   CommandType = "resume"
)

type Command struct {
	ID          int64           `json:"id" db:"id"`
	Command     CommandType     `json:"command" db:"command"`
	Params      json.RawMessage `json:"params" db:"params"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	ProcessedAt *time.Time      `json:"processed_at" db:"processed_at"`
}

type CommandParams struct {
	ProductID int64 `json:"product_id,omitempty"`
}

func (c *Command) ParseParams() (*CommandParams, error) {
	if c.Params == nil || string(c.Params) == "null" {
		return &CommandParams{}, nil
	}
	var params CommandParams
	if err := json.Unmarshal(c.Params, &params); err != nil {
		return nil, err
	}
	return &params, nil
}
