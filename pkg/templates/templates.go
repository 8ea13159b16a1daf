// Package templates renders the gate's user-facing chat messages.
//
// Templates use `{placeholder}` markers. Only the placeholders enumerated in
// Values are substituted; anything else is left in the output verbatim so a
// typo in an operator-supplied template degrades to visible text instead of
// a formatting failure.
package templates

import (
	"strconv"
	"strings"
)

// Values holds every placeholder a template may reference.
type Values struct {
	MemberName       string // {member_name}
	AtMention        string // {at_user}
	Repo             string // {repo}
	TimeoutMinutes   int    // {timeout}
	CountdownSeconds int    // {countdown}
}

// Set is the full collection of message templates the gate sends.
type Set struct {
	JoinPrompt    string `yaml:"join_prompt"`
	Welcome       string `yaml:"welcome"`
	TimeoutWarn   string `yaml:"timeout_warn"`
	KickNotice    string `yaml:"kick_notice"`
	NotStargazer  string `yaml:"not_stargazer"`
	AlreadyBound  string `yaml:"already_bound"`
	InvalidHandle string `yaml:"invalid_handle"`
	BindRetry     string `yaml:"bind_retry"`
}

// Defaults returns the stock template set.
func Defaults() Set {
	return Set{
		JoinPrompt: "Welcome {member_name}! Please @-mention me with your GitHub username " +
			"within {timeout} minutes to verify. Only users who have starred {repo} may stay.",
		Welcome:       "{at_user} GitHub verification succeeded. Welcome aboard!",
		TimeoutWarn:   "{at_user} verification timed out. You will be removed in {countdown} seconds.",
		KickNotice:    "{member_name} was removed for not completing GitHub verification.",
		NotStargazer:  "{at_user} verification failed: you have not starred {repo}, or the username does not exist.",
		AlreadyBound:  "{at_user} verification failed: that GitHub username is already claimed by another member.",
		InvalidHandle: "{at_user} verification failed: please send a valid GitHub username.",
		BindRetry:     "{at_user} binding failed, please try again later.",
	}
}

// Merge overlays non-empty fields of other onto s.
func (s Set) Merge(other Set) Set {
	merge := func(dst *string, src string) {
		if src != "" {
			*dst = src
		}
	}
	merge(&s.JoinPrompt, other.JoinPrompt)
	merge(&s.Welcome, other.Welcome)
	merge(&s.TimeoutWarn, other.TimeoutWarn)
	merge(&s.KickNotice, other.KickNotice)
	merge(&s.NotStargazer, other.NotStargazer)
	merge(&s.AlreadyBound, other.AlreadyBound)
	merge(&s.InvalidHandle, other.InvalidHandle)
	merge(&s.BindRetry, other.BindRetry)
	return s
}

// Render substitutes the recognized placeholders in tmpl. Unknown placeholders
// are preserved; Render never fails.
func Render(tmpl string, v Values) string {
	r := strings.NewReplacer(
		"{member_name}", v.MemberName,
		"{at_user}", v.AtMention,
		"{repo}", v.Repo,
		"{timeout}", strconv.Itoa(v.TimeoutMinutes),
		"{countdown}", strconv.Itoa(v.CountdownSeconds),
	)
	return r.Replace(tmpl)
}
