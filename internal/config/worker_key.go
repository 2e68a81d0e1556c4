package config

type WorkerKeyStruct struct {
	PersistOutcomesQueue string
	PersistAuditQueue    string
}

var WorkerKey = &WorkerKeyStruct{
	PersistOutcomesQueue: "persist_outcomes_queue",
	PersistAuditQueue:    "persist_audit_queue",
}
