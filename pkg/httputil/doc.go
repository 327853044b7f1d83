// Package httputil holds the JSON response writers and request parsers shared by
// the tenantgate HTTP handlers.
//
// Every error reply has the same body:
//
//	{"error": "message"}
//
// Path parameters are read from gorilla/mux route variables:
//
//	tenantID, ok := httputil.ParsePathUUIDOrError(w, r, "tenant_id")
//	if !ok {
//		return
//	}
package httputil
