package domain

// NetworkState is the most recent connectivity snapshot, fed by a
// platform integration and read by the executor to decide offline
// handling and queue draining.
type NetworkState struct {
	Connected bool   `json:"connected"`
	Type      string `json:"type"`
	Reachable bool   `json:"reachable"`
}
