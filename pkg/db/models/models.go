package models

// All lists every persisted model, in dependency order. Tests auto-migrate
// these against sqlite; production schemas come from goose migrations.
func All() []any {
	return []any{&Ticket{}, &OrderRecord{}, &Issue{}}
}
