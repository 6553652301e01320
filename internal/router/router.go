// Package router selects which capability handles an inbound task when
// no explicit capability is named: keyword substring matching first,
// then regex pattern matching, falling back to a configured default
// capability.
package router

import (
	"context"
	"regexp"
	"strings"

	"github.com/agentup/agentup/internal/apperr"
	"github.com/agentup/agentup/internal/capability"
	"github.com/agentup/agentup/internal/telemetry"
)

// Mode selects whether a matched capability is invoked directly or
// through the LLM function-calling loop.
type Mode string

const (
	ModeDirect Mode = "direct"
	ModeAI     Mode = "ai"
)

// Rule is one routing rule bound to a capability ID.
type Rule struct {
	CapabilityID string
	Mode         Mode     // defaults to ModeDirect if empty
	Keywords     []string // case-insensitive substring match, tried first
	Patterns     []string // regexp, tried if no keyword matches
}

// compiledRule holds a Rule plus its successfully compiled patterns. A
// pattern that fails to compile is logged and skipped rather than
// treated as fatal, so one bad regex in config doesn't take down
// routing for every capability.
type compiledRule struct {
	capabilityID string
	mode         Mode
	keywords     []string
	patterns     []*regexp.Regexp
}

// Router selects a capability for an inbound task's text.
type Router struct {
	rules              []compiledRule
	fallbackCapability string
	fallbackMode       Mode
	fallbackEnabled    bool
}

// New compiles rules, skipping and logging any regex pattern that fails
// to compile (the rest of its rule is kept). fallbackMode is the routing.default_mode a matched
// fallback capability runs under.
func New(rules []Rule, fallbackCapability string, fallbackMode Mode, fallbackEnabled bool) *Router {
	if fallbackMode == "" {
		fallbackMode = ModeDirect
	}
	r := &Router{fallbackCapability: fallbackCapability, fallbackMode: fallbackMode, fallbackEnabled: fallbackEnabled}
	for _, rule := range rules {
		mode := rule.Mode
		if mode == "" {
			mode = ModeDirect
		}
		cr := compiledRule{capabilityID: rule.CapabilityID, mode: mode, keywords: lowerAll(rule.Keywords)}
		for _, pattern := range rule.Patterns {
			re, err := regexp.Compile("(?i)" + pattern)
			if err != nil {
				telemetry.Warn(context.Background(), "routing pattern failed to compile, skipping", telemetry.Fields{Capability: rule.CapabilityID}, "pattern", pattern, "error", err.Error())
				continue
			}
			cr.patterns = append(cr.patterns, re)
		}
		r.rules = append(r.rules, cr)
	}
	return r
}

func lowerAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}

// Select returns the ID and routing Mode of the capability that should
// handle text, among those registered active in reg. Keyword matches are
// tried before regex matches across all rules; the first rule to match
// wins.
func (r *Router) Select(text string, reg *capability.Registry) (string, Mode, error) {
	lower := strings.ToLower(text)

	for _, rule := range r.rules {
		if !reg.IsActive(rule.capabilityID) {
			continue
		}
		for _, kw := range rule.keywords {
			if kw != "" && strings.Contains(lower, kw) {
				return rule.capabilityID, rule.mode, nil
			}
		}
	}
	for _, rule := range r.rules {
		if !reg.IsActive(rule.capabilityID) {
			continue
		}
		for _, re := range rule.patterns {
			if re.MatchString(text) {
				return rule.capabilityID, rule.mode, nil
			}
		}
	}
	if r.fallbackEnabled && r.fallbackCapability != "" && reg.IsActive(r.fallbackCapability) {
		return r.fallbackCapability, r.fallbackMode, nil
	}
	return "", "", apperr.New(apperr.KindRouting, "no capability matched this request")
}
