package scheduler

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const TaskGeocodeBatch = "geocode.batch"

type GeocodeBatchPayload struct {
	RunID string `json:"runId"`
}

func NewGeocodeBatchTask(payload GeocodeBatchPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskGeocodeBatch, data), nil
}

func ParseGeocodeBatchPayload(task *asynq.Task) (GeocodeBatchPayload, error) {
	var payload GeocodeBatchPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return GeocodeBatchPayload{}, err
	}
	return payload, nil
}
