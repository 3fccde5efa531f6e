// Package notify carries scheduler progress to observers: the log, the
// status endpoint and, optionally, a socket.io server run by the host
// application. Notifiers are called from the scheduler's control loop and
// must not block it.
package notify
