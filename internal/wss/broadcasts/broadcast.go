package broadcasts

import "time"

// SendSuccess acknowledges a client message.
func SendSuccess(conn *Conn, eventType, message string, payload map[string]any) error {
	return conn.SendJSON(map[string]any{
		"type":    eventType,
		"status":  "ok",
		"message": message,
		"payload": payload,
	})
}

// BroadcastSubscriptionClosed tells a client that one of its subscriptions ended on the
// server side, e.g. after its idle timeout.
func BroadcastSubscriptionClosed(conn *Conn, eventType, subscriptionID, contest string) error {
	if conn == nil {
		return nil
	}
	return conn.SendJSON(map[string]any{
		"type":    eventType,
		"status":  "ok",
		"message": "Subscription closed",
		"payload": map[string]any{
			"subscriptionId": subscriptionID,
			"contest":        contest,
			"time":           time.Now(),
		},
	})
}
