// Package api holds the http paths and parsing helpers shared by the server
// modules and clients.
package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
)

const (
	muxVarRequestID = "requestID"
	muxVarUserID    = "userID"

	URLParamStatus    = "status"
	URLParamLimit     = "limit"
	URLParamStartDate = "start_date"
	URLParamEndDate   = "end_date"

	HeaderAccept          = "Accept"
	HeaderContentType     = "Content-Type"
	HeaderContentTypeJSON = "application/json"

	PathRequests        = "/api/requests"
	PathRequestByID     = "/api/requests/{" + muxVarRequestID + "}"
	PathUsers           = "/api/users"
	PathUserByID        = "/api/users/{" + muxVarUserID + "}"
	PathDataTypes       = "/api/dataTypes"
	PathDispatch        = "/api/dispatch"
	PathDispatchSummary = "/api/dispatch/summary"
	PathHealth          = "/api/status/health"
	PathBuildInfo       = "/api/status/buildinfo"
	PathEcho            = "/api/echo"

	// Websocket paths served by the hub. The trailing slash matches what
	// the observer clients dial.
	PathWSNewRequests = "/ws/newRequest/"
	PathWSDispatched  = "/ws/dispatched/"

	// DateFormat is the day granularity of the summary bounds.
	DateFormat = "2006-01-02"
)

// ParseRequestID pulls the request id out of the route.
func ParseRequestID(r *http.Request) (string, error) {
	vars := mux.Vars(r)
	id, ok := vars[muxVarRequestID]
	if !ok || id == "" {
		return "", fmt.Errorf("please provide a request id")
	}
	return id, nil
}

// ParseUserID pulls the user id out of the route.
func ParseUserID(r *http.Request) (string, error) {
	vars := mux.Vars(r)
	id, ok := vars[muxVarUserID]
	if !ok || id == "" {
		return "", fmt.Errorf("please provide a user id")
	}
	return id, nil
}

// ParseStatusFilter returns the requested status filter, empty for all.
func ParseStatusFilter(r *http.Request) string {
	return r.URL.Query().Get(URLParamStatus)
}

// ParseLimit returns the requested list limit, 0 for unlimited.
func ParseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get(URLParamLimit)
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, fmt.Errorf("invalid %s %q", URLParamLimit, raw)
	}
	return limit, nil
}

// ParseSummaryRange parses the optional start_date/end_date bounds of the
// dispatch summary. Dates are YYYY-MM-DD and the end bound is inclusive
// through the end of its day.
func ParseSummaryRange(r *http.Request) (*time.Time, *time.Time, error) {
	var start, end *time.Time

	if raw := r.URL.Query().Get(URLParamStartDate); raw != "" {
		t, err := time.Parse(DateFormat, raw)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid %s %q, expected YYYY-MM-DD", URLParamStartDate, raw)
		}
		start = &t
	}

	if raw := r.URL.Query().Get(URLParamEndDate); raw != "" {
		t, err := time.Parse(DateFormat, raw)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid %s %q, expected YYYY-MM-DD", URLParamEndDate, raw)
		}
		t = t.Add(24*time.Hour - time.Nanosecond)
		end = &t
	}

	if start != nil && end != nil && end.Before(*start) {
		return nil, nil, fmt.Errorf("%s is after %s", URLParamStartDate, URLParamEndDate)
	}

	return start, end, nil
}

// SummaryCacheKey names the cached summary response for a date range.
func SummaryCacheKey(start, end *time.Time) string {
	s, e := "all", "all"
	if start != nil {
		s = start.UTC().Format(DateFormat)
	}
	if end != nil {
		e = end.UTC().Format(DateFormat)
	}
	return "dispatch_summary:" + s + ":" + e
}
