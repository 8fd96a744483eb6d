// Package httputil holds the JSON response helpers, request parsing and
// middleware shared by the admin API handlers.
//
//	router.Use(httputil.RequestIDMiddleware)
//	router.Use(mux.MiddlewareFunc(httputil.RecoveryMiddleware(log)))
//
//	var req createRoleRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // 400 already written
//	}
package httputil
