package api

import (
	"fmt"
	"strings"
)

// IndicesFromDetails walks a structured error-details payload and collects
// index names from any "indices_used" or "indices" entries, deduplicated
// case-insensitively in discovery order.
func IndicesFromDetails(details any) []string {
	var collected []string
	var visit func(v any)
	visit = func(v any) {
		switch val := v.(type) {
		case map[string]any:
			for key, entry := range val {
				if k := normalizedKey(key); k == "indices_used" || k == "indices" {
					switch item := entry.(type) {
					case []any:
						for _, elem := range item {
							if text, ok := elem.(string); ok {
								collected = appendUnique(collected, text)
							}
						}
					case string:
						collected = appendUnique(collected, item)
					}
				} else {
					visit(entry)
				}
			}
		case []any:
			for _, item := range val {
				visit(item)
			}
		}
	}
	visit(details)
	return collected
}

// BudgetHint extracts a human-readable budget summary ("tokens a/b · wall
// xms/yms") from a structured error-details payload, or "" when the payload
// carries no budget counters.
func BudgetHint(details any) string {
	var visit func(v any) string
	visit = func(v any) string {
		switch val := v.(type) {
		case map[string]any:
			tokensSpent, hasTS := asUint(val["tokens_spent"])
			tokensAllowed, hasTA := asUint(val["tokens_allowed"])
			wallSpent, hasWS := asUint(val["walltime_ms_used"])
			wallAllowed, hasWA := asUint(val["walltime_ms_allowed"])
			if hasTS || hasTA || hasWS || hasWA {
				var parts []string
				if hasTS || hasTA {
					parts = append(parts, fmt.Sprintf("tokens %s/%s", orDash(tokensSpent, hasTS), orDash(tokensAllowed, hasTA)))
				}
				if hasWS || hasWA {
					parts = append(parts, fmt.Sprintf("wall %sms/%sms", orDash(wallSpent, hasWS), orDash(wallAllowed, hasWA)))
				}
				if len(parts) > 0 {
					return strings.Join(parts, " · ")
				}
			}
			for _, entry := range val {
				if result := visit(entry); result != "" {
					return result
				}
			}
		case []any:
			for _, item := range val {
				if result := visit(item); result != "" {
					return result
				}
			}
		}
		return ""
	}
	return visit(details)
}

func normalizedKey(key string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(key), "-", "_"))
}

func appendUnique(list []string, text string) []string {
	for _, existing := range list {
		if strings.EqualFold(existing, text) {
			return list
		}
	}
	return append(list, text)
}

func asUint(v any) (uint64, bool) {
	switch n := v.(type) {
	case float64:
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	case int:
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	case uint64:
		return n, true
	default:
		return 0, false
	}
}

func orDash(n uint64, ok bool) string {
	if !ok {
		return "-"
	}
	return fmt.Sprintf("%d", n)
}
