/*
Package core implements the storage actor of kvsd.

A Core owns every open table. One goroutine (the one calling Run) executes all
requests, the tables themselves are never shared. Connection handlers call the
store.IStore methods of the Core, which put a request on a bounded channel and wait
for the reply on a per-request channel with capacity one. A handler that gives up
(context cancelled, connection closed) never blocks the actor.

Tables live in <root>/namespaces/<namespace>/<table>. Tables present at New are
opened eagerly, so a corrupt log aborts startup. Tables whose directory appears
later are opened on first use, a missing directory yields RetCTableNotFound.

Shutdown is driven by cancelling the context given to Run: requests already queued
are executed, then every table is synced and closed and Done is closed. Requests
submitted after that fail with ErrShuttingDown.

The Authenticator checks the credentials of the Authenticate message against the
configured users. Without users every login succeeds.
*/
package core
