package domain

// JobRecord is the engine's history entry for one prompt id. Outputs keep the
// order in which the engine reported them.
type JobRecord struct {
	PromptID string
	Outputs  []OutputEntry
	Status   *JobStatus
}

type JobStatus struct {
	StatusStr string `json:"status_str"`
	Completed bool   `json:"completed"`
}

type OutputEntry struct {
	NodeID string
	Images []ImageRef
}

// ImageRef locates a produced file relative to the engine's root.
type ImageRef struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

func (r JobRecord) ImageCount() int {
	n := 0
	for _, out := range r.Outputs {
		n += len(out.Images)
	}
	return n
}
