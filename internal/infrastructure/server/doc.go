// Package server puts the module API, Prometheus metrics and the HTTP
// middleware stack in front of an assembled system.
//
//	srv := server.New(sys)
//	if err := srv.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
package server
