package models

// All lists every persisted model in dependency order.
func All() []any {
	return []any{
		&Campaign{},
		&TrackingLink{},
		&ClickEvent{},
		&ExternalConnection{},
		&Product{},
		&Order{},
		&SyncRun{},
		&OutboxEvent{},
		&OutboxDLQ{},
	}
}
