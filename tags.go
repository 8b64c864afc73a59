package beacon

import (
	"regexp"
	"strings"
)

// Tag is a user-defined classification rule. Matching is pure: a tag
// never mutates the event it inspects.
type Tag struct {
	ID              string         `yaml:"id" json:"id"`
	Key             string         `yaml:"key" json:"key"`
	TriggerType     EventType      `yaml:"trigger_type" json:"triggerType"`
	LogicalOperator string         `yaml:"logical_operator" json:"logicalOperator"`
	Conditions      []TagCondition `yaml:"conditions" json:"conditions"`
}

// TagCondition is one predicate of a tag rule.
type TagCondition struct {
	Type     string `yaml:"type" json:"type"`
	Operator string `yaml:"operator" json:"operator"`
	Value    string `yaml:"value" json:"value"`
}

// Condition types.
const (
	ConditionURL         = "url"
	ConditionDevice      = "device"
	ConditionUTMSource   = "utm_source"
	ConditionUTMMedium   = "utm_medium"
	ConditionUTMCampaign = "utm_campaign"
	ConditionElement     = "element"
)

// Condition operators.
const (
	OpEquals     = "equals"
	OpContains   = "contains"
	OpStartsWith = "starts_with"
	OpEndsWith   = "ends_with"
	OpRegex      = "regex"
	OpExists     = "exists"
	OpNotExists  = "not_exists"
)

// TagMatch pairs a matched tag's id with its human-readable key, used
// by debug mode.
type TagMatch struct {
	ID  string
	Key string
}

// TagEngine evaluates the configured tag rules against events. Tags are
// immutable for the engine's lifetime.
type TagEngine struct {
	tags []Tag
}

// NewTagEngine creates an engine over a fixed tag list.
func NewTagEngine(tags []Tag) *TagEngine {
	return &TagEngine{tags: tags}
}

// MatchingTagIDs returns the ids of every tag matching the event. Only
// tags whose trigger type equals the event type are considered.
func (e *TagEngine) MatchingTagIDs(ev *Event, device Device) []string {
	matches := e.Match(ev, device)
	if len(matches) == 0 {
		return nil
	}
	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = m.ID
	}
	return ids
}

// Match returns id+key pairs for every matching tag.
func (e *TagEngine) Match(ev *Event, device Device) []TagMatch {
	var matches []TagMatch
	for _, tag := range e.tags {
		if tag.TriggerType != ev.Type {
			continue
		}
		if tagMatches(tag, ev, device) {
			matches = append(matches, TagMatch{ID: tag.ID, Key: tag.Key})
		}
	}
	return matches
}

func tagMatches(tag Tag, ev *Event, device Device) bool {
	if len(tag.Conditions) == 0 {
		return false
	}

	requireAll := strings.EqualFold(tag.LogicalOperator, "and")
	for _, cond := range tag.Conditions {
		ok := safeEvalCondition(cond, ev, device)
		if requireAll && !ok {
			return false
		}
		if !requireAll && ok {
			return true
		}
	}
	return requireAll
}

// safeEvalCondition treats any panic inside a single condition as a
// non-match so one malformed rule cannot abort the remaining tags.
func safeEvalCondition(cond TagCondition, ev *Event, device Device) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	return evalCondition(cond, ev, device)
}

func evalCondition(cond TagCondition, ev *Event, device Device) bool {
	switch cond.Type {
	case ConditionURL:
		return matchString(ev.PageURL, cond.Operator, cond.Value)
	case ConditionDevice:
		return matchString(string(device), cond.Operator, cond.Value)
	case ConditionUTMSource:
		return matchString(utmField(ev, func(u *UTM) string { return u.Source }), cond.Operator, cond.Value)
	case ConditionUTMMedium:
		return matchString(utmField(ev, func(u *UTM) string { return u.Medium }), cond.Operator, cond.Value)
	case ConditionUTMCampaign:
		return matchString(utmField(ev, func(u *UTM) string { return u.Campaign }), cond.Operator, cond.Value)
	case ConditionElement:
		if ev.ClickData == nil || ev.ClickData.Element == nil {
			return false
		}
		return matchElement(ev.ClickData.Element, cond.Operator, cond.Value)
	default:
		return false
	}
}

func utmField(ev *Event, pick func(*UTM) string) string {
	if ev.UTM == nil {
		return ""
	}
	return pick(ev.UTM)
}

// matchString applies a string operator. Presence operators bypass the
// emptiness check the others require; a malformed regex never matches.
func matchString(field, operator, value string) bool {
	switch operator {
	case OpExists:
		return field != ""
	case OpNotExists:
		return field == ""
	}

	if field == "" {
		return false
	}

	field = strings.ToLower(field)
	value = strings.ToLower(value)

	switch operator {
	case OpEquals:
		return field == value
	case OpContains:
		return strings.Contains(field, value)
	case OpStartsWith:
		return strings.HasPrefix(field, value)
	case OpEndsWith:
		return strings.HasSuffix(field, value)
	case OpRegex:
		re, err := regexp.Compile("(?i)" + value)
		if err != nil {
			return false
		}
		return re.MatchString(field)
	default:
		return false
	}
}

// matchElement checks each structured field for an exact
// case-insensitive hit before falling back to a substring-style search
// over the concatenated element description.
func matchElement(el *ElementInfo, operator, value string) bool {
	fields := elementFields(el)

	switch operator {
	case OpExists:
		for _, f := range fields {
			if f != "" {
				return true
			}
		}
		return false
	case OpNotExists:
		for _, f := range fields {
			if f != "" {
				return false
			}
		}
		return true
	}

	for _, f := range fields {
		if f != "" && strings.EqualFold(f, value) {
			return true
		}
	}

	return matchString(strings.Join(fields, " "), operator, value)
}

func elementFields(el *ElementInfo) []string {
	fields := []string{
		el.ID, el.Classes, el.Tag, el.Text, el.Href,
		el.Title, el.Alt, el.Role, el.AriaLabel,
	}
	for _, v := range el.DataAttrs {
		fields = append(fields, v)
	}
	return fields
}
