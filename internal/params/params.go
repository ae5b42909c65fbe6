// Package params names the request parameters shared by forms, the adapter
// and the HTTP handlers. A parameter set is a url.Values; sequence-valued
// parameters are repeated keys.
package params

import (
	"net/url"
	"strings"
)

const (
	StrainType = "strain_type"
	StimType   = "stim_type"
	StimNeuID  = "stim_neu_id"
	RespNeuIDs = "resp_neu_ids"
	NT         = "nt"
	TMax       = "t_max"
	TopN       = "top_n"
)

// None is how an unset optional value travels in query strings
const None = "None"

// SharedKeys returns the keys every stimulus type needs, in order
func SharedKeys() []string {
	return []string{StrainType, StimType, StimNeuID, RespNeuIDs, NT, TMax, TopN}
}

// IsUnset reports whether an optional value means "not given"
func IsUnset(v string) bool {
	v = strings.TrimSpace(v)
	return v == "" || v == None
}

// SplitIDs flattens neuron id values that may be repeated keys, comma or
// whitespace separated, dropping empties and repeats. First-seen order is kept.
func SplitIDs(values []string) []string {
	var ids []string
	seen := make(map[string]bool)
	for _, v := range values {
		for _, id := range strings.FieldsFunc(v, func(r rune) bool {
			return r == ',' || r == ' ' || r == '\t' || r == '\n' || r == '\r'
		}) {
			if seen[id] {
				continue
			}
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids
}

// Clone returns a deep copy of a parameter set
func Clone(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vals := range v {
		out[k] = append([]string(nil), vals...)
	}
	return out
}
