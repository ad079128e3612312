package delivery

import (
	"fmt"
	"strconv"
	"strings"
)

// Callback data constants — spec.md §6's inline-keyboard grammar, bit-exact.
// notify_/resolve_ are routed inside this core (ingestion.HandleCallbackQuery);
// the rest belong to out-of-scope collaborators (spec.md §1) and are only
// declared here, unexported. Builders and parsers exist for the notify_,
// resolve_ and survey-rating forms only.
const (
	callbackNotifyPrefix       = "notify_"
	callbackResolvePrefix      = "resolve_"
	callbackSurveyRatingPrefix = "survey:rating:"
	callbackViewFeedbackPrefix = "view_feedback_"
	callbackTemplateUsePrefix  = "template:use:"
	callbackTemplateCancel     = "template:cancel"
)

// NotifyCallbackData builds the "notify_{alertId}" callback payload.
func NotifyCallbackData(alertID string) string {
	return callbackNotifyPrefix + alertID
}

// ResolveCallbackData builds the "resolve_{alertId}" callback payload.
func ResolveCallbackData(alertID string) string {
	return callbackResolvePrefix + alertID
}

// SurveyRatingCallbackData builds the "survey:rating:{deliveryId}:{1..5}"
// callback payload.
func SurveyRatingCallbackData(deliveryID string, rating int) string {
	return fmt.Sprintf("%s%s:%d", callbackSurveyRatingPrefix, deliveryID, rating)
}

// ParseNotifyCallback reports whether data is a notify_ callback and
// extracts the alert id.
func ParseNotifyCallback(data string) (alertID string, ok bool) {
	return parsePrefixed(data, callbackNotifyPrefix)
}

// ParseResolveCallback reports whether data is a resolve_ callback and
// extracts the alert id.
func ParseResolveCallback(data string) (alertID string, ok bool) {
	return parsePrefixed(data, callbackResolvePrefix)
}

// ParseSurveyRatingCallback reports whether data is a
// "survey:rating:{deliveryId}:{1..5}" callback and extracts its parts.
func ParseSurveyRatingCallback(data string) (deliveryID string, rating int, ok bool) {
	rest, ok := parsePrefixed(data, callbackSurveyRatingPrefix)
	if !ok {
		return "", 0, false
	}
	idx := strings.LastIndex(rest, ":")
	if idx < 0 {
		return "", 0, false
	}
	deliveryID = rest[:idx]
	rating, err := strconv.Atoi(rest[idx+1:])
	if err != nil || rating < 1 || rating > 5 {
		return "", 0, false
	}
	return deliveryID, rating, true
}

func parsePrefixed(data, prefix string) (string, bool) {
	if len(data) <= len(prefix) || data[:len(prefix)] != prefix {
		return "", false
	}
	return data[len(prefix):], true
}
