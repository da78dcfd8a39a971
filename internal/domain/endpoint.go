package domain

// Endpoint is one JSON-RPC provider known to the node access layer.
// HealthScore stays within [floor, 1]; the floor keeps every endpoint
// eligible for eventual retry, there is no permanent removal.
type Endpoint struct {
	URL                 string
	Priority            int
	HealthScore         float64
	ConsecutiveFailures int
}
