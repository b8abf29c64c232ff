package types

type OutputPlaybackUrl struct {
	PlaybackUrl string `json:"playbackUrl"`
}

type OutputMessage struct {
	Message string `json:"message"`
}

type OutputTaskQueued struct {
	TaskID string `json:"taskId"`
	Type   string `json:"type"`
}

type OutputRotation struct {
	State     string `json:"state"`
	PrimaryID string `json:"primaryId,omitempty"`
}
