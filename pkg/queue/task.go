package queue

// DispatchTask is the payload of one queue entry. ID names the request to
// dispatch; TaskID identifies this dispatch attempt in audit logs and is
// minted at enqueue time.
type DispatchTask struct {
	ID     string `json:"id"`
	TaskID string `json:"task_id,omitempty"`
}
