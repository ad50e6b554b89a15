package eventbus

// Event names follow the "domain:action" convention. New names are added here
// so producers and consumers agree on the catalogue.
const (
	// Queue lifecycle.
	QueueTaskAdded   = "queue:task_added"
	QueueTaskRemoved = "queue:task_removed"
	QueueStarted     = "queue:started"
	QueueStopped     = "queue:stopped"
	QueueCleared     = "queue:cleared"

	// Per-download lifecycle.
	DownloadStarted   = "download:started"
	DownloadProgress  = "download:progress"
	DownloadCompleted = "download:completed"
	DownloadFailed    = "download:failed"
	DownloadCancelled = "download:cancelled"

	// Configuration.
	ConfigLoaded  = "config:loaded"
	ConfigChanged = "config:changed"

	// History.
	HistoryRecorded = "history:recorded"
)
