package services

// ProgressNotifier receives step events from long-running maintenance
// operations. The websocket hub implements it for live admin UIs.
type ProgressNotifier interface {
	Notify(action string, payload any)
}

// NopNotifier discards all events. Used in tests and headless runs.
type NopNotifier struct{}

func (NopNotifier) Notify(string, any) {}
