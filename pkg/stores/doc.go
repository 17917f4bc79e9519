// Package stores journals engine runs in SQLite.
//
// A run is one invocation of apply, plan or a service lifecycle command.
// The journal keeps the run status, the outcome of every chart unit and
// the events emitted while it ran. Schema changes are embedded migrations
// applied with golang-migrate on open. The engine itself keeps no state;
// RunRecorder plugs the journal into the level runner and the event
// publisher.
package stores
