package metrics

import "expvar"

var (
	AgentsRegistered = expvar.NewInt("agents_registered")
	AgentsActivated  = expvar.NewInt("agents_activated")
	AgentsClosed     = expvar.NewInt("agents_closed")

	OrdersSubmitted = expvar.NewInt("orders_submitted")
	OrdersRejected  = expvar.NewInt("orders_rejected")
	ExchangeErrors  = expvar.NewInt("exchange_errors")

	AuthFailures     = expvar.NewInt("auth_failures")
	RateLimitedCalls = expvar.NewInt("rate_limited_calls")

	FillSyncRuns     = expvar.NewInt("fill_sync_runs")
	FillSyncErrors   = expvar.NewInt("fill_sync_errors")
	FillsRecorded    = expvar.NewInt("fills_recorded")
	MidsFeedMessages = expvar.NewInt("mids_feed_messages")
)
