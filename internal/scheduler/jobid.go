package scheduler

import "fmt"

// JobID identifies one scheduled trigger of one conversation. IDs are
// deterministic, so rescheduling a conversation replaces its old triggers
// instead of stacking new ones next to them.
type JobID string

func GatherJobID(configID int64, label string) JobID {
	return JobID(fmt.Sprintf("gathering_%s_%d", label, configID))
}

func OnlineJobID(configID int64, label string) JobID {
	return JobID(fmt.Sprintf("online_%s_%d", label, configID))
}

func RandomDayJobID(configID int64) JobID {
	return JobID(fmt.Sprintf("random_day_%d", configID))
}

func RandomNightJobID(configID int64) JobID {
	return JobID(fmt.Sprintf("random_night_%d", configID))
}

func PulseJobID(configID int64) JobID {
	return JobID(fmt.Sprintf("online_pulse_%d", configID))
}

func EndJobID(configID int64) JobID {
	return JobID(fmt.Sprintf("online_end_%d", configID))
}
