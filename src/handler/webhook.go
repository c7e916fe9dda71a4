package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"signalbridge/src/pipeline"

	logger "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

type signalProcessor interface {
	Handle(ctx context.Context, raw []byte) pipeline.Result
}

// PassphraseHeader may carry the passphrase when the sender can set headers.
const PassphraseHeader = "X-Webhook-Passphrase"

// WebhookHandler feeds the request body to the pipeline and maps its outcome to
// an HTTP status. Outcomes the sender must not retry (ignored, failed) are 200.
func WebhookHandler(processor signalProcessor, cfg Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.MaxBodyBytes > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, cfg.MaxBodyBytes)
		}
		body, err := io.ReadAll(r.Body)
		if err != nil {
			logger.WithError(err).Warn("failed to read webhook body")
			writeError(w, http.StatusBadRequest, "unreadable body")
			return
		}

		if cfg.WebhookPassphraseHash != "" && !passphraseMatches(cfg.WebhookPassphraseHash, r, body) {
			logger.WithField("remote_addr", r.RemoteAddr).Warn("webhook passphrase mismatch")
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		result := processor.Handle(r.Context(), body)
		status := result.HTTPStatus
		if status == 0 {
			status = http.StatusOK
		}
		writeJSON(w, status, result)
	}
}

// passphraseMatches accepts the passphrase from the header or a "passphrase" body field,
// since alert senders usually cannot set headers.
func passphraseMatches(hash string, r *http.Request, body []byte) bool {
	candidate := strings.TrimSpace(r.Header.Get(PassphraseHeader))
	if candidate == "" {
		var payload map[string]interface{}
		if err := json.Unmarshal(body, &payload); err == nil {
			candidate, _ = payload[pipeline.PassphraseField].(string)
		}
	}
	if candidate == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(candidate)) == nil
}
