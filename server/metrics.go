package server

import (
	"expvar"
	"net/http"
)

var (
	requests     = expvar.NewInt("flagfilter.requests")
	respCodes    = expvar.NewMap("flagfilter.respcode")
	matches      = expvar.NewInt("flagfilter.matches")
	filterErrors = expvar.NewInt("flagfilter.filter_errors")
	rateLimited  = expvar.NewInt("flagfilter.rate_limited")
)

func metricsHandler() http.Handler { return expvar.Handler() }
