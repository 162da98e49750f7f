package schema

// NodeStatus is the live state of a node as shown on the canvas.
type NodeStatus string

const (
	NodeStatusInitial NodeStatus = "initial"
	NodeStatusLoading NodeStatus = "loading"
	NodeStatusSuccess NodeStatus = "success"
	NodeStatusError   NodeStatus = "error"
)

// StatusTopic is the only topic published on node channels.
const StatusTopic = "status"
