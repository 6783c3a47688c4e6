// Package session guards a leased remote device session.
//
// A Guard acquires one session from a Provider and deletes it exactly once,
// whichever termination path gets there first: the normal return of the
// guarded body, an error or panic unwinding it, SIGINT/SIGTERM, or an exit
// taken through exithook.Exit. A released session refuses further commands.
package session
