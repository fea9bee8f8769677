// Package server wires the connection hub, the session manager and the admin
// asset tree into one HTTP server.
//
// Routes:
//
//	GET  /                            public status page
//	GET  /admin, /admin/              login page, or 404 when the console is disabled
//	POST /admin/login                 credential check, sets the session cookie
//	*    /admin/logout                ends the session
//	GET  /admin/ws                    WebSocket upgrade into the hub
//	GET  /admin/api/pages/{page}      page fragment
//	GET  /admin/api/metrics           current metrics snapshot
//	GET  /admin/api/events/{kind}     recent events of one kind
//	GET  /admin/metrics               Prometheus exposition
//	GET  /admin/...                   static assets under the admin root
//
// Everything below /admin except the login page and static/ requires a
// session when authentication is enabled.
package server
