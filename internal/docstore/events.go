package docstore

// RPCResult is the terminal outcome of a single document call, correlated
// by handle. Exactly one RPCResult is posted per non-watch handle; watch
// handles terminate with the WatchStop acknowledgement instead.
type RPCResult struct {
	Handle Handle

	// Doc carries the payload for get and the written state for set.
	// Nil for delete and watch-stop acknowledgements.
	Doc *Document

	Err error
}

// EventName implements bridge.Event.
func (RPCResult) EventName() string { return "docstore.rpc_result" }

// DocumentChanged is one change notification from an active watch
// subscription.
type DocumentChanged struct {
	Handle Handle
	Path   string

	// Doc is nil when Deleted is set.
	Doc     *Document
	Deleted bool
}

// EventName implements bridge.Event.
func (DocumentChanged) EventName() string { return "docstore.document_changed" }

// StreamDropped signals that a watch stream terminated unexpectedly. The
// subscription is removed; re-establishing it is up to the caller.
type StreamDropped struct {
	Handle Handle
	Path   string
	Err    error
}

// EventName implements bridge.Event.
func (StreamDropped) EventName() string { return "docstore.stream_dropped" }
