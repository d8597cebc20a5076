package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/matthewgrima/twitchcommands/internal/metrics"
)

// EventSub header names as Twitch sends them.
const (
	HeaderMessageID        = "Twitch-Eventsub-Message-Id"
	HeaderMessageTimestamp = "Twitch-Eventsub-Message-Timestamp"
	HeaderMessageSignature = "Twitch-Eventsub-Message-Signature"
	HeaderMessageType      = "Twitch-Eventsub-Message-Type"
)

// EventSub message types.
const (
	MessageTypeNotification = "notification"
	MessageTypeVerification = "webhook_callback_verification"
	MessageTypeRevocation   = "revocation"
)

const (
	// maxStaleness matches Twitch's redelivery window: anything older
	// is either a replay of a long-dead delivery or an attack.
	maxStaleness = 10 * time.Minute
	// futureSkew tolerates small clock drift between us and Twitch.
	futureSkew = time.Minute

	maxBodySize = 1 << 20
)

// Notification is a verified EventSub delivery. Payload is the raw
// envelope body; downstream handlers decode the part they care about.
type Notification struct {
	Type           string
	SubscriptionID string
	MessageID      string
	Timestamp      time.Time
	Payload        json.RawMessage
}

// NotificationFunc consumes a verified notification. Errors are logged
// and answered with a 5xx so Twitch redelivers.
type NotificationFunc func(ctx context.Context, n *Notification) error

// RevocationFunc is told when Twitch revokes a subscription. Cleanup
// only; its outcome never changes the HTTP response.
type RevocationFunc func(ctx context.Context, n *Notification)

// Handler is the EventSub webhook endpoint. Every delivery passes the
// same gauntlet in order: timestamp freshness, HMAC signature, replay
// guard, then dispatch by message type. Freshness and signature run
// before the guard insert so forged requests can never poison the
// guard against a legitimate later delivery.
type Handler struct {
	secret       []byte
	guard        *ReplayGuard
	clock        clockwork.Clock
	onNotify     NotificationFunc
	onRevocation RevocationFunc
}

func NewHandler(secret string, guard *ReplayGuard, clock clockwork.Clock, onNotify NotificationFunc, onRevocation RevocationFunc) *Handler {
	return &Handler{
		secret:       []byte(secret),
		guard:        guard,
		clock:        clock,
		onNotify:     onNotify,
		onRevocation: onRevocation,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		metrics.WebhookDeliveriesTotal.WithLabelValues("read_error").Inc()
		http.Error(w, "failed to read body", http.StatusInternalServerError)
		return
	}

	messageID := r.Header.Get(HeaderMessageID)
	timestamp := r.Header.Get(HeaderMessageTimestamp)
	signature := r.Header.Get(HeaderMessageSignature)
	messageType := r.Header.Get(HeaderMessageType)

	if messageID == "" || timestamp == "" || signature == "" {
		metrics.WebhookDeliveriesTotal.WithLabelValues("missing_headers").Inc()
		http.Error(w, "missing eventsub headers", http.StatusForbidden)
		return
	}

	sentAt, err := time.Parse(time.RFC3339Nano, timestamp)
	if err != nil {
		metrics.WebhookDeliveriesTotal.WithLabelValues("stale").Inc()
		http.Error(w, "malformed timestamp", http.StatusForbidden)
		return
	}
	now := h.clock.Now()
	if now.Sub(sentAt) > maxStaleness || sentAt.Sub(now) > futureSkew {
		metrics.WebhookDeliveriesTotal.WithLabelValues("stale").Inc()
		slog.Warn("Rejected stale webhook delivery", "message_id", messageID, "sent_at", timestamp)
		http.Error(w, "stale delivery", http.StatusForbidden)
		return
	}

	if !h.verifySignature(messageID, timestamp, body, signature) {
		metrics.WebhookDeliveriesTotal.WithLabelValues("bad_signature").Inc()
		slog.Warn("Rejected webhook delivery with bad signature", "message_id", messageID)
		http.Error(w, "signature mismatch", http.StatusForbidden)
		return
	}

	// Twitch delivers at least once. A duplicate is acknowledged with
	// a 200 like the first delivery was, but never reprocessed.
	if h.guard.Seen(messageID) {
		metrics.WebhookDeliveriesTotal.WithLabelValues("duplicate").Inc()
		w.WriteHeader(http.StatusOK)
		return
	}

	var envelope struct {
		Challenge    string `json:"challenge"`
		Subscription struct {
			ID string `json:"id"`
		} `json:"subscription"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		metrics.WebhookDeliveriesTotal.WithLabelValues("bad_payload").Inc()
		http.Error(w, "malformed payload", http.StatusBadRequest)
		return
	}

	n := &Notification{
		Type:           messageType,
		SubscriptionID: envelope.Subscription.ID,
		MessageID:      messageID,
		Timestamp:      sentAt,
		Payload:        body,
	}

	switch messageType {
	case MessageTypeVerification:
		// Subscription handshake: echo the challenge verbatim. This is
		// not a signature bypass, the checks above already ran.
		metrics.WebhookDeliveriesTotal.WithLabelValues("challenge").Inc()
		slog.Info("Answered EventSub challenge", "subscription_id", n.SubscriptionID)
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(envelope.Challenge))

	case MessageTypeNotification:
		if err := h.onNotify(r.Context(), n); err != nil {
			metrics.WebhookDeliveriesTotal.WithLabelValues("handler_error").Inc()
			slog.Error("Webhook notification handler failed", "message_id", messageID, "error", err)
			// Drop the id from the guard so the redelivery this 5xx
			// requests is not swallowed as a duplicate.
			h.guard.Forget(messageID)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		metrics.WebhookDeliveriesTotal.WithLabelValues("accepted").Inc()
		w.WriteHeader(http.StatusOK)

	case MessageTypeRevocation:
		if h.onRevocation != nil {
			h.onRevocation(r.Context(), n)
		}
		metrics.WebhookDeliveriesTotal.WithLabelValues("revocation").Inc()
		slog.Warn("EventSub subscription revoked", "subscription_id", n.SubscriptionID)
		w.WriteHeader(http.StatusOK)

	default:
		metrics.WebhookDeliveriesTotal.WithLabelValues("unknown_type").Inc()
		http.Error(w, "unknown message type", http.StatusBadRequest)
	}
}

func (h *Handler) verifySignature(messageID, timestamp string, body []byte, signature string) bool {
	mac := hmac.New(sha256.New, h.secret)
	mac.Write([]byte(messageID))
	mac.Write([]byte(timestamp))
	mac.Write(body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
