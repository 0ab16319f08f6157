package config

type WorkerKeyStruct struct {
	PersistFocusEventsQueue string
}

var WorkerKey = &WorkerKeyStruct{
	PersistFocusEventsQueue: "persist_focus_events_queue",
}
