// Package journal keeps a persistent record of connection transitions.
//
// Every connection.Event is written to the connection_events table so
// that reconnect history survives a restart of the service. The write side
// is a connection.Sink; the read side backs GET /api/odrive/events.
//
// Usage:
//
//	repo := journal.NewRepository(db.DB, log)
//	mgr.AddSink(repo)
//	entries, err := repo.List(ctx, journal.Query{Limit: 20})
package journal
