// Package views renders the HTML pages of the exam server.
package views

import (
	"context"
	"strings"

	"github.com/a-h/templ"

	appI18n "github.com/pavelanni/hybridexam/internal/i18n"
	"github.com/pavelanni/hybridexam/internal/model"
)

// inFlightRefresh is the meta refresh interval, in seconds, while a remote call runs.
const inFlightRefresh = 2

// link joins the request's base path with p.
func link(ctx context.Context, p string) templ.SafeURL {
	return templ.SafeURL(model.BasePathFromContext(ctx) + p)
}

func pageTitle(ctx context.Context, title string) string {
	appTitle := appI18n.T(ctx, "AppTitle")
	if title == "" {
		return appTitle
	}
	return title + " · " + appTitle
}

func refreshFor(s model.ExamState) int {
	if s.InFlight() {
		return inFlightRefresh
	}
	return 0
}

func examPath(snap model.ExamSessionRecord, suffix string) string {
	return "/exam/" + snap.SessionID + suffix
}

// isErrorFeedback reports whether feedback carries a failed remote call.
func isErrorFeedback(feedback string) bool {
	return strings.HasPrefix(feedback, "Error")
}

// StateLabel returns the localized label of an exam state.
func StateLabel(ctx context.Context, s model.ExamState) string {
	switch s {
	case model.StateIdle:
		return appI18n.T(ctx, "StateIdle")
	case model.StateThinking:
		return appI18n.T(ctx, "StateThinking")
	case model.StateActive:
		return appI18n.T(ctx, "StateActive")
	case model.StateAnalyzing:
		return appI18n.T(ctx, "StateAnalyzing")
	case model.StateFinished:
		return appI18n.T(ctx, "StateFinished")
	}
	return string(s)
}
