package sqlcgen

import "time"

type RepairRun struct {
	ID          string
	Defect      string
	Status      string
	Requester   *string
	Stats       map[string]any
	StartedAt   time.Time
	CompletedAt *time.Time
	LastError   *string
}

type RepairRunLog struct {
	ID        int64
	RunID     string
	Level     string
	Message   string
	CreatedAt time.Time
}
