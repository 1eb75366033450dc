package cloudaws

// ContainerStatus is a point-in-time view of a listener container
type ContainerStatus struct {
	State  LifecycleState `json:"state"`
	Queues []QueueStatus  `json:"queues"`
}

// QueueStatus describes one queue registration of a listener container
type QueueStatus struct {
	Queue       string `json:"queue"`
	URL         string `json:"url,omitempty"`
	SendTo      string `json:"send_to,omitempty"`
	Concurrency int    `json:"concurrency"`
	InFlight    int64  `json:"in_flight"`
}

// StatusProvider exposes the status of a running component
type StatusProvider interface {
	Status() ContainerStatus
}
