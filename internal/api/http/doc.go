// Package http serves the module manager over a JSON API.
//
//	GET    /health
//	GET    /stats
//	GET    /symbols?prefix=rt_
//	GET    /modules
//	GET    /modules/:name
//	GET    /modules/:name/symbols/:symbol
//	POST   /modules               {"path": "bin/app.mo", "args": "-v"}
//	DELETE /modules/:name
package http
