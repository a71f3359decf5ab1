package server

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/kkkkikiki/voucher/internal/service"
)

const maxWebhookBody = 1 << 20

// Field paths tried in order. Form bodies use the bracket form of the same
// path, so {"data", "merges", "EMAIL"} also matches data[merges][EMAIL].
var (
	identityFields = [][]string{
		{"email"},
		{"email_address"},
		{"data", "email"},
		{"data", "merges", "EMAIL"},
	}
	campaignFields = [][]string{
		{"campaign_id"},
		{"campaignRef"},
		{"data", "campaign_id"},
		{"data", "merges", "CAMPAIGN"},
		{"data", "list_id"},
		{"list_id"},
	}
	typeField = []string{"type"}
)

// WebhookHandler turns subscriber notifications from the email platform into
// voucher assignments. Deliveries may repeat; assignment is idempotent per
// subscriber.
type WebhookHandler struct {
	assigner *service.AssignmentService
	secret   string
	logger   *zap.Logger
}

// NewWebhookHandler creates a WebhookHandler. An empty secret disables the
// ?secret= check.
func NewWebhookHandler(assigner *service.AssignmentService, secret string, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{assigner: assigner, secret: secret, logger: logger}
}

type webhookResponse struct {
	Code     string `json:"code"`
	Existing bool   `json:"existing"`
}

// Verify answers the platform's GET liveness check.
func (h *WebhookHandler) Verify(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "webhook verified"})
}

// Receive handles a POST delivery.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	if h.secret != "" {
		given := r.URL.Query().Get("secret")
		if subtle.ConstantTimeCompare([]byte(given), []byte(h.secret)) != 1 {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid webhook secret")
			return
		}
	}

	payload, err := parsePayload(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", err.Error())
		return
	}

	if kind := payload.lookup(typeField); kind != "" && !strings.EqualFold(kind, "subscribe") {
		writeJSON(w, http.StatusOK, map[string]bool{"ignored": true})
		return
	}

	identity := payload.first(identityFields)
	campaignRef := r.URL.Query().Get("campaign")
	if campaignRef == "" {
		campaignRef = payload.first(campaignFields)
	}
	if identity == "" || campaignRef == "" {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "subscriber email and campaign reference are required")
		return
	}

	res, err := h.assigner.Assign(r.Context(), campaignRef, identity)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, webhookResponse{Code: res.Voucher.Code, Existing: res.Existing})
	case errors.Is(err, service.ErrValidation):
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", err.Error())
	case errors.Is(err, service.ErrCampaignNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", "campaign not found")
	case errors.Is(err, service.ErrNoneAvailable):
		writeError(w, http.StatusConflict, "NONE_AVAILABLE", "no voucher available for this campaign")
	default:
		h.logger.Error("webhook assignment failed",
			zap.String("campaign_ref", campaignRef),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "an internal error occurred")
	}
}

// payload is a decoded webhook body, either a JSON object or form values.
type payload struct {
	json map[string]interface{}
	form url.Values
}

func parsePayload(r *http.Request) (*payload, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		return parseMultipartPayload(r)
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}

	switch {
	case mediaType == "application/json":
		return parseJSONPayload(body)
	case mediaType == "application/x-www-form-urlencoded":
		return parseFormPayload(body)
	case bytes.HasPrefix(bytes.TrimSpace(body), []byte("{")):
		return parseJSONPayload(body)
	default:
		return parseFormPayload(body)
	}
}

func parseJSONPayload(body []byte) (*payload, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var obj map[string]interface{}
	if err := dec.Decode(&obj); err != nil {
		return nil, errors.New("body is not a JSON object")
	}
	return &payload{json: obj}, nil
}

// parseMultipartPayload keeps the text fields of a multipart body. File
// parts are not part of any subscriber event and are dropped.
func parseMultipartPayload(r *http.Request) (*payload, error) {
	r.Body = http.MaxBytesReader(nil, r.Body, maxWebhookBody)
	if err := r.ParseMultipartForm(maxWebhookBody); err != nil {
		return nil, errors.New("body is not multipart form data")
	}
	defer r.MultipartForm.RemoveAll() //nolint:errcheck
	return &payload{form: url.Values(r.MultipartForm.Value)}, nil
}

func parseFormPayload(body []byte) (*payload, error) {
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, errors.New("body is not form encoded")
	}
	return &payload{form: values}, nil
}

// first returns the first non-empty value among paths.
func (p *payload) first(paths [][]string) string {
	for _, path := range paths {
		if v := p.lookup(path); v != "" {
			return v
		}
	}
	return ""
}

func (p *payload) lookup(path []string) string {
	if p.form != nil {
		return strings.TrimSpace(p.form.Get(formKey(path)))
	}

	// A JSON sender may also flatten keys the way form bodies do.
	if v, ok := p.json[formKey(path)]; ok && len(path) > 1 {
		return scalar(v)
	}

	var node interface{} = p.json
	for _, key := range path {
		obj, ok := node.(map[string]interface{})
		if !ok {
			return ""
		}
		node = obj[key]
	}
	return scalar(node)
}

// formKey renders a path as data[merges][EMAIL].
func formKey(path []string) string {
	var b strings.Builder
	b.WriteString(path[0])
	for _, key := range path[1:] {
		b.WriteString("[" + key + "]")
	}
	return b.String()
}

func scalar(v interface{}) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case bool:
		return fmt.Sprint(t)
	}
	return ""
}
